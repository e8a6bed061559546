// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package episcan

import (
	"context"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	log "github.com/sirupsen/logrus"
)

// writeProfiles saves heap and CPU profiles to outdir every interval
// until ctx is done. Each file is replaced atomically so a long
// stability selection run can be inspected while it is going.
func writeProfiles(ctx context.Context, outdir string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			writeProfile(outdir, "mem", func(f *os.File) error {
				runtime.GC()
				return pprof.WriteHeapProfile(f)
			})
			writeProfile(outdir, "cpu", func(f *os.File) error {
				if err := pprof.StartCPUProfile(f); err != nil {
					return err
				}
				time.Sleep(time.Second)
				pprof.StopCPUProfile()
				return nil
			})
		}
	}
}

func writeProfile(outdir, name string, write func(*os.File) error) {
	tmp := outdir + "/" + name + ".prof~"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		log.Print(err)
		return
	}
	defer f.Close()
	if err = write(f); err != nil {
		log.Print(err)
		return
	}
	if err = f.Close(); err != nil {
		log.Print(err)
		return
	}
	if err = os.Rename(tmp, outdir+"/"+name+".prof"); err != nil {
		log.Print(err)
	}
}
