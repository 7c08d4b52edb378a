package util

import "io"

// A ChainableReader reads each of its readers to the end before moving on to the next,
// returning io.EOF once all of them are exhausted. Data returned together with an error
// is never dropped.
type ChainableReader struct {
	readers []io.Reader
	current int
}

func NewChainableReader(readers ...io.Reader) *ChainableReader {
	return &ChainableReader{
		readers: readers,
	}
}

func (self *ChainableReader) Read(p []byte) (int, error) {
	for self.current >= 0 && self.current < len(self.readers) {
		var n, err = self.readers[self.current].Read(p)

		if err != nil {
			self.current += 1
		}

		if n > 0 || len(p) == 0 {
			return n, nil
		} else if err != nil && err != io.EOF {
			return 0, err
		}
	}

	return 0, io.EOF
}

// Close stops reading; subsequent reads return io.EOF.
func (self *ChainableReader) Close() error {
	self.current = -1
	self.readers = nil
	return nil
}
