package dwarf

import (
	"fmt"

	"github.com/adamavenir/cogdbg/internal/driver"
)

func errFileNotIndexed(file string) error {
	return fmt.Errorf("%w: %s", driver.ErrFileNotIndexed, file)
}

func errLineHasNoCode(file string, line int) error {
	return fmt.Errorf("%w: %s:%d", driver.ErrLineHasNoCode, file, line)
}
