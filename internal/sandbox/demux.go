package sandbox

import (
	"encoding/binary"
	"io"
)

// demultiplexStream splits Docker's multiplexed attach stream into stdout
// and stderr. Each frame carries an 8-byte header: byte 0 is the stream
// type (1 stdout, 2 stderr), bytes 4-7 the big-endian payload size.
func demultiplexStream(r io.Reader, stdout, stderr io.Writer) error {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}

		var dst io.Writer
		switch header[0] {
		case 2:
			dst = stderr
		default:
			dst = stdout
		}

		if _, err := io.CopyN(dst, r, int64(size)); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
