package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kjk/kvs"
	"github.com/kjk/kvs/backup"
	"github.com/kjk/kvs/log"
	"github.com/tidwall/pretty"
)

const usage = `kvs - a persistent key-value store

Usage:
  kvs [flags] <command> [args]

Commands:
  get KEY           print the value of KEY
  set KEY VALUE     set KEY to VALUE
  rm KEY            remove KEY
  ls                print all keys and values as JSON
  backup [-s3 REMOTE] [-sftp user@host:/dir -key KEYFILE] DST
                    copy the log to DST (.gz, .zst, .br are compressed)
  restore SRC       replace the log with a backup
  restore -s3 REMOTE
                    download a backup from S3 and restore it

Flags:
`

type options struct {
	dir    string
	sync   bool
	logDir string
}

// exitError carries the exit code for errors that were already reported
type exitError int

func (e exitError) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

func defaultDir() string {
	if dir := os.Getenv("KVS_DIR"); dir != "" {
		return dir
	}
	return "."
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("kvs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	var opts options
	fs.StringVar(&opts.dir, "dir", defaultDir(), "store directory (env KVS_DIR)")
	fs.BoolVar(&opts.sync, "sync", false, "fsync every write")
	fs.BoolVar(&log.Verbose, "v", false, "verbose logging")
	fs.StringVar(&opts.logDir, "logdir", "", "if set, write logs to files in this directory")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	args = fs.Args()
	if len(args) == 0 {
		fs.Usage()
		return 2
	}

	prevOutput := log.Output
	log.Output = stderr
	defer func() {
		log.Output = prevOutput
	}()
	if opts.logDir != "" {
		if err := log.Init(&log.Config{Dir: opts.logDir}); err != nil {
			fmt.Fprintf(stderr, "failed to initialize logging: %s\n", err)
			return 1
		}
		defer log.Close()
	}

	cmd, cmdArgs := args[0], args[1:]
	nArgs := map[string]int{
		"get": 1,
		"set": 2,
		"rm":  1,
		"ls":  0,
	}
	if n, ok := nArgs[cmd]; ok && n != len(cmdArgs) {
		fmt.Fprintf(stderr, "'%s' expects %d argument(s), got %d\n", cmd, n, len(cmdArgs))
		fs.Usage()
		return 2
	}

	var err error
	switch cmd {
	case "get":
		err = withStore(&opts, func(s *kvs.Store) error {
			return cmdGet(s, stdout, cmdArgs[0])
		})
	case "set":
		err = withStore(&opts, func(s *kvs.Store) error {
			return s.Set(cmdArgs[0], cmdArgs[1])
		})
	case "rm":
		err = withStore(&opts, func(s *kvs.Store) error {
			return cmdRemove(s, stdout, cmdArgs[0])
		})
	case "ls":
		err = withStore(&opts, func(s *kvs.Store) error {
			return cmdList(s, stdout)
		})
	case "backup":
		err = cmdBackup(&opts, cmdArgs, stdout, stderr)
	case "restore":
		err = cmdRestore(&opts, cmdArgs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command '%s'\n", cmd)
		fs.Usage()
		return 2
	}

	var exitErr exitError
	if errors.As(err, &exitErr) {
		return int(exitErr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

func withStore(opts *options, fn func(s *kvs.Store) error) error {
	s, err := kvs.OpenWithOptions(&kvs.Options{
		Dir:       opts.dir,
		SyncWrite: opts.sync,
	})
	if err != nil {
		return err
	}
	err = fn(s)
	if err2 := s.Close(); err == nil {
		err = err2
	}
	return err
}

func cmdGet(s *kvs.Store, w io.Writer, key string) error {
	v, ok, err := s.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "Key not found")
		return nil
	}
	fmt.Fprintln(w, v)
	return nil
}

func cmdRemove(s *kvs.Store, w io.Writer, key string) error {
	err := s.Remove(key)
	if kvs.IsNotFound(err) {
		fmt.Fprintln(w, "Key not found")
		return exitError(1)
	}
	return err
}

func cmdList(s *kvs.Store, w io.Writer) error {
	m := map[string]string{}
	for _, k := range s.Keys() {
		v, _, err := s.Get(k)
		if err != nil {
			return err
		}
		m[k] = v
	}
	d, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(d))
	return err
}

func cmdBackup(opts *options, args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	s3Remote := fs.String("s3", "", "also upload to S3 as this remote path (config from KVS_S3_* env variables)")
	sftpRemote := fs.String("sftp", "", "also upload over sftp to user@host:/dir")
	keyPath := fs.String("key", "~/.ssh/id_ed25519", "ssh private key for -sftp")
	if err := fs.Parse(args); err != nil {
		return exitError(2)
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "'backup' expects 1 argument, got %d\n", fs.NArg())
		fs.PrintDefaults()
		return exitError(2)
	}
	dst := fs.Arg(0)

	// validate remote config before doing the work
	var s3Config *backup.S3Config
	if *s3Remote != "" {
		s3Config = backup.S3ConfigFromEnv()
		if err := s3Config.Validate(); err != nil {
			return err
		}
	}
	var sftpConfig *backup.SFTPConfig
	if *sftpRemote != "" {
		var err error
		sftpConfig, err = backup.ParseSFTPRemote(*sftpRemote, *keyPath)
		if err != nil {
			return err
		}
	}

	err := withStore(opts, func(s *kvs.Store) error {
		_, err := backup.File(s, dst)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Backed up to %s\n", dst)

	if s3Config != nil {
		ctx := context.Background()
		c, err := backup.NewS3(ctx, s3Config)
		if err != nil {
			return err
		}
		if _, err = c.Upload(ctx, *s3Remote, dst); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Uploaded to s3://%s/%s\n", c.Bucket, *s3Remote)
	}
	if sftpConfig != nil {
		remotePath, err := backup.UploadSFTP(sftpConfig, dst)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Uploaded to %s:%s\n", sftpConfig.Host, remotePath)
	}
	return nil
}

func cmdRestore(opts *options, args []string, stdout io.Writer, stderr io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(stderr)
	s3Remote := fs.String("s3", "", "download the backup from S3 (config from KVS_S3_* env variables)")
	if err := fs.Parse(args); err != nil {
		return exitError(2)
	}
	nExp := 1
	if *s3Remote != "" {
		nExp = 0
	}
	if fs.NArg() != nExp {
		fmt.Fprintf(stderr, "'restore' expects %d argument(s), got %d\n", nExp, fs.NArg())
		fs.PrintDefaults()
		return exitError(2)
	}

	storeOpts := &kvs.Options{Dir: opts.dir}
	if *s3Remote == "" {
		src := fs.Arg(0)
		nKeys, err := backup.Restore(src, storeOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Restored %d keys from %s\n", nKeys, src)
		return nil
	}

	s3Config := backup.S3ConfigFromEnv()
	if err := s3Config.Validate(); err != nil {
		return err
	}
	ctx := context.Background()
	c, err := backup.NewS3(ctx, s3Config)
	if err != nil {
		return err
	}
	nKeys, err := backup.RestoreS3(ctx, c, *s3Remote, storeOpts)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Restored %d keys from s3://%s/%s\n", nKeys, c.Bucket, *s3Remote)
	return nil
}
