package main

import (
	"bytes"
	"sync"

	tty "github.com/mattn/go-tty"
)

// ttyConsole es la consola del monitor. La terminal se abre recién en el primer uso para no
// dejarla en modo raw mientras los cores escriben en stdout.
type ttyConsole struct {
	once sync.Once
	t    *tty.TTY
	err  error
	buf  []byte
}

func (c *ttyConsole) open() error {
	c.once.Do(func() {
		c.t, c.err = tty.Open()
	})
	return c.err
}

// Read devuelve de a una línea. go-tty hace el eco mientras se escribe.
func (c *ttyConsole) Read(p []byte) (int, error) {
	if err := c.open(); err != nil {
		return 0, err
	}
	if len(c.buf) == 0 {
		line, err := c.t.ReadString()
		if err != nil {
			return 0, err
		}
		c.t.Output().WriteString("\r\n")
		c.buf = append([]byte(line), '\n')
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write pasa los \n a \r\n porque la terminal está en modo raw.
func (c *ttyConsole) Write(p []byte) (int, error) {
	if err := c.open(); err != nil {
		return 0, err
	}
	if _, err := c.t.Output().Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *ttyConsole) Close() error {
	if c.t == nil {
		return nil
	}
	return c.t.Close()
}
