package externs

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestWrite(t *testing.T) {
	dir := t.TempDir()

	paths, err := Write(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no externs materialized")
	}

	for _, p := range paths {
		got, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		want, err := fs.ReadFile(fs_, filepath.Base(p))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("materialized %s differs from embedded content", p)
		}
	}
}

// Builds running in parallel call Write against the same directory while
// their compiler processes read the extern paths. Readers must never observe
// a truncated file.
func TestWriteConcurrentReaders(t *testing.T) {
	dir := t.TempDir()

	paths, err := Write(dir)
	if err != nil {
		t.Fatal(err)
	}

	want := make(map[string][]byte, len(paths))
	for _, p := range paths {
		bs, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		want[p] = bs
	}

	stop := make(chan struct{})
	errs := make(chan error, 1)
	report := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}

	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, p := range paths {
					bs, err := os.ReadFile(p)
					if err != nil {
						report(err)
						return
					}
					if !bytes.Equal(bs, want[p]) {
						report(fmt.Errorf("read truncated or partial extern %s (%d bytes, want %d)", p, len(bs), len(want[p])))
						return
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for range 4 {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for range 50 {
				if _, err := Write(dir); err != nil {
					report(err)
					return
				}
			}
		}()
	}

	writers.Wait()
	close(stop)
	readers.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
}
