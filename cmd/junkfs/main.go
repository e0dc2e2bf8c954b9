// Command junkfs opens a metadata store created by mkfs and mounts it as
// a FUSE filesystem, per spec.md §6.
package main

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"

	"github.com/abbycin/junkfs/internal/config"
	"github.com/abbycin/junkfs/internal/fsadapter"
	"github.com/abbycin/junkfs/internal/meta"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/rs/zerolog"
)

// zerologWriter adapts zerolog.Logger to the io.Writer a stdlib *log.Logger
// needs, so the FUSE binding's own ErrorLogger/DebugLogger callbacks land
// in the same structured log stream as the rest of junkfs.
type zerologWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func (w zerologWriter) Write(p []byte) (int, error) {
	w.logger.WithLevel(w.level).Msg(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func main() {
	if len(os.Args) != 3 {
		log.Fatalf("usage: junkfs <meta_path> <mount_point>")
	}
	metaPath, mountPoint := os.Args[1], os.Args[2]

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("junkfs: config: %v", err)
	}
	logger := config.NewLogger(cfg)

	u, err := user.Current()
	if err != nil {
		log.Fatalf("junkfs: user.Current: %v", err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		log.Fatalf("junkfs: parse uid: %v", err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		log.Fatalf("junkfs: parse gid: %v", err)
	}

	m, err := meta.Open(metaPath, logger)
	if err != nil {
		log.Fatalf("junkfs: open metadata store: %v", err)
	}
	defer m.Close()

	fs, err := fsadapter.New(m, cfg, logger, uint32(uid), uint32(gid))
	if err != nil {
		log.Fatalf("junkfs: build filesystem: %v", err)
	}

	server := fuseutil.NewFileSystemServer(fs)

	mountCfg := &fuse.MountConfig{
		FSName:                  "junkfs",
		DisableWritebackCaching: cfg.DisableWritebackCache,
		Options: map[string]string{
			"max_read":      "16777216",
			"max_readahead": "16777216",
		},
		ErrorLogger: log.New(zerologWriter{logger, zerolog.ErrorLevel}, "", 0),
		DebugLogger: log.New(zerologWriter{logger, zerolog.DebugLevel}, "", 0),
	}

	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		log.Fatalf("junkfs: mount: %v", err)
	}

	fs.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		if err := fuse.Unmount(mountPoint); err != nil {
			logger.Error().Err(err).Msg("unmount failed")
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		log.Fatalf("junkfs: Join: %v", err)
	}

	fs.Shutdown()
}
