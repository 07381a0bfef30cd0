// Package backup archives intermediate step data in the background.
//
// Archives are tar streams compressed with zstd. A failed backup is logged
// and never interrupts the pipeline.
package backup

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Ext is appended to every archive name.
const Ext = ".tar.zst"

// Archiver writes archives into Dir without blocking the caller.
type Archiver struct {
	Dir    string
	Logger *slog.Logger

	wg sync.WaitGroup
}

// New returns an Archiver writing into dir.
func New(dir string, logger *slog.Logger) *Archiver {
	return &Archiver{Dir: dir, Logger: logger}
}

func (a *Archiver) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// Backup starts archiving paths into <Dir>/<name>.tar.zst and returns
// immediately.
func (a *Archiver) Backup(name string, paths ...string) {
	dst := filepath.Join(a.Dir, name+Ext)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		start := time.Now()
		if err := Archive(dst, paths...); err != nil {
			a.logger().Error("backup failed", "archive", dst, "err", err)
			return
		}
		a.logger().Info("backup written", "archive", dst, "files", len(paths), "elapsed", time.Since(start))
	}()
}

// Wait blocks until every started backup has finished.
func (a *Archiver) Wait() {
	a.wg.Wait()
}

// Archive writes paths into a zstd-compressed tar file at dst, each under
// its base name. A partial archive is removed on failure.
func Archive(dst string, paths ...string) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	bw := bufio.NewWriter(f)
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	for _, p := range paths {
		if err := add(tw, p); err != nil {
			enc.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

func add(tw *tar.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("backup: %s is not a regular file", path)
	}
	hdr, err := tar.FileInfoHeader(fi, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, in)
	return err
}

// Extract unpacks an archive written by Archive into dir and returns the
// extracted paths.
func Extract(src, dir string) (paths []string, err error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return paths, nil
		}
		if err != nil {
			return paths, err
		}
		name := filepath.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || name == "." || name == ".." {
			continue
		}
		dst := filepath.Join(dir, name)
		if err := extract(tr, dst, hdr.FileInfo().Mode().Perm()); err != nil {
			return paths, err
		}
		paths = append(paths, dst)
	}
}

func extract(r io.Reader, dst string, perm os.FileMode) (err error) {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()
	_, err = io.Copy(out, r)
	return err
}
