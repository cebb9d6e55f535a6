package helper

import (
	"io"
	"os"

	"github.com/whitekid/goxp/log"
)

// ReadFile read data from file or stdin
func ReadFile(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}

	log.Debugf("read file %s", name)
	return os.ReadFile(name)
}

// WriteFile write data to file or stdout
func WriteFile(name string, data []byte, perm os.FileMode) error {
	if name == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	log.Debugf("write file %s", name)
	return os.WriteFile(name, data, perm)
}
