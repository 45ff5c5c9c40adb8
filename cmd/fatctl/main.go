// Command fatctl mounts a FAT32 image, walks its tree, and prints a file,
// demonstrating the read paths of github.com/kelvinfs/fat32vfs. It does not
// create, write or remove anything.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/kelvinfs/fat32vfs"
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("usage: fatctl <image-file> [path-to-print]")
		os.Exit(1)
	}

	imgFile, err := os.OpenFile(args[0], os.O_RDWR, 0)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer imgFile.Close()

	fs, err := gofat32.MountAuto(imgFile)
	if err != nil {
		fmt.Println("mount failed:", err)
		os.Exit(1)
	}
	defer fs.Unmount()

	aferoFS := gofat32.NewAferoFS(fs)

	err = afero.Walk(aferoFS, "", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		fmt.Println(path, info.IsDir(), info.Size())
		return nil
	})
	if err != nil {
		fmt.Println("walk failed:", err)
	}

	if len(args) < 2 {
		return
	}

	f, err := aferoFS.Open(args[1])
	if err != nil {
		fmt.Println("open failed:", err)
		os.Exit(1)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		fmt.Println("read failed:", err)
		os.Exit(1)
	}
	fmt.Printf("\n--- %s ---\n%s\n", args[1], data)
}
