package util

import (
	"runtime"
	"strconv"

	_ "go.uber.org/automaxprocs"
)

// ConcurrencyLimit is the number of archives scanned in parallel. It is a
// kingpin flag value accepting a positive number or "auto" (GOMAXPROCS).
type ConcurrencyLimit int

func (c *ConcurrencyLimit) String() string {
	if *c == 0 {
		return "auto"
	}
	return strconv.Itoa(int(*c))
}

func (c *ConcurrencyLimit) Set(v string) (err error) {
	var p int
	if v == "" || v == "auto" {
		p = runtime.GOMAXPROCS(-1)
	} else if p, err = strconv.Atoi(v); err != nil {
		return err
	}
	if p < 1 {
		p = 1
	}
	*c = ConcurrencyLimit(p)
	return nil
}

// Limit returns the limit to pass to an errgroup.
func (c *ConcurrencyLimit) Limit() int {
	if *c < 1 {
		return runtime.GOMAXPROCS(-1)
	}
	return int(*c)
}
