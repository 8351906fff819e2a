// Copyright (C) The nnexp Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package nnexp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// writeArtifact creates fnm's directory if needed, calls write with a
// buffered temporary file in that directory, and renames the
// temporary file to fnm only if everything succeeded. Readers never
// see a partially written artifact.
func writeArtifact(fnm string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(fnm)
	if err = os.MkdirAll(dir, 0777); err != nil {
		return err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(fnm)+"."+uuid.New().String()+"~")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()
	bufw := bufio.NewWriterSize(f, 1<<20)
	if err = write(bufw); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	if err = bufw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", fnm, err)
	}
	return os.Rename(tmp, fnm)
}
