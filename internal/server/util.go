package server

import (
	"encoding/json"
	"time"
)

// maxScanBuffer bounds the bufio.Scanner used to read lines off the
// extension socket — generous enough for an uncompressed chunk just
// under the C2 threshold plus JSON overhead.
const maxScanBuffer = 1 << 21 // 2 MiB

// nowFunc exists so tests can stub the clock; production always uses
// time.Now.
var nowFunc = time.Now

func marshalLine(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}
