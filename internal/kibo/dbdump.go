package kibo

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/shlex"
	"github.com/stevegt/debugpipe"
	. "github.com/stevegt/goadapt"
)

// DumpDatabase shells out to mysqldump, grounded on the teacher's
// external-process-as-opaque-collaborator pattern (server/server.go's
// runContainer piping into a docker client). The core only owns the
// filename slot and sidecar lifecycle -- spec.md 1's explicit scope
// boundary -- so this function's only contract with the rest of the
// system is "write bytes to destPath or return an error."
func DumpDatabase(ctx context.Context, cfg *DatabaseConfig, dbName, destPath string) (err error) {
	defer Return(&err)

	if _, lookErr := exec.LookPath("mysqldump"); lookErr != nil {
		return Wrap(KindDbToolMissing, "mysqldump", lookErr)
	}

	args := []string{"--single-transaction"}
	if cfg != nil {
		if cfg.Host != "" {
			args = append(args, "--host="+cfg.Host)
		}
		if cfg.Port != 0 {
			args = append(args, fmt.Sprintf("--port=%d", cfg.Port))
		}
		if cfg.User != "" {
			args = append(args, "--user="+cfg.User)
		}
		if cfg.ExtraArgs != "" {
			extra, splitErr := shlex.Split(cfg.ExtraArgs)
			Ck(splitErr)
			args = append(args, extra...)
		}
	}
	args = append(args, dbName)

	Ck(os.MkdirAll(filepath.Dir(destPath), 0755))
	out, createErr := os.Create(destPath)
	Ck(createErr)
	defer out.Close()

	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if cfg != nil && cfg.Password != "" {
		cmd.Env = append(os.Environ(), "MYSQL_PWD="+cfg.Password)
	}

	runErr := cmd.Run()
	if runErr != nil {
		// delete the partial dump before bubbling the error -- resolves
		// the Open Question in spec.md 9 about partial mysqldump output.
		os.Remove(destPath)
		return Wrap(KindDbCommandFailed, "mysqldump", runErr)
	}
	return nil
}

// RestoreDatabase shells out to mysql, piping the dump file into its
// stdin through github.com/stevegt/debugpipe.Pipe() -- the teacher's own
// idiom for piping a byte stream into an external process
// (server/server.go pipes a tarball into `docker load` the same way),
// repurposed here for piping a SQL dump into `mysql`.
func RestoreDatabase(ctx context.Context, cfg *DatabaseConfig, dbName, dumpPath string) (err error) {
	defer Return(&err)

	if _, lookErr := exec.LookPath("mysql"); lookErr != nil {
		return Wrap(KindDbToolMissing, "mysql", lookErr)
	}

	args := []string{}
	if cfg != nil {
		if cfg.Host != "" {
			args = append(args, "--host="+cfg.Host)
		}
		if cfg.Port != 0 {
			args = append(args, fmt.Sprintf("--port=%d", cfg.Port))
		}
		if cfg.User != "" {
			args = append(args, "--user="+cfg.User)
		}
		if cfg.ExtraArgs != "" {
			extra, splitErr := shlex.Split(cfg.ExtraArgs)
			Ck(splitErr)
			args = append(args, extra...)
		}
	}
	args = append(args, dbName)

	dump, openErr := os.Open(dumpPath)
	Ck(openErr)
	defer dump.Close()

	pipeReader, pipeWriter := debugpipe.Pipe()
	go func() {
		_, copyErr := io.Copy(pipeWriter, dump)
		Ck(copyErr)
		Ck(pipeWriter.Close())
	}()

	cmd := exec.CommandContext(ctx, "mysql", args...)
	cmd.Stdin = pipeReader
	cmd.Stderr = os.Stderr
	if cfg != nil && cfg.Password != "" {
		cmd.Env = append(os.Environ(), "MYSQL_PWD="+cfg.Password)
	}

	if runErr := cmd.Run(); runErr != nil {
		return Wrap(KindDbCommandFailed, "mysql", runErr)
	}
	return nil
}

// DumpBasename builds the sidecar filename spec.md 4.F step 6 names:
// <N>-<dbname>-<unix-ts>.sql.
func DumpBasename(snapshotName, dbName string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d.sql", snapshotName, dbName, at.Unix())
}
