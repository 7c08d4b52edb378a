package kiln

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ghetzel/kiln/util"
	"github.com/jbenet/go-base58"
	"github.com/spaolacci/murmur3"
)

var ApplicationName = util.ApplicationName
var ApplicationSummary = util.ApplicationSummary
var ApplicationVersion = util.ApplicationVersion

// value of the Server header and SERVER_SOFTWARE
var ServerSoftware = fmt.Sprintf("%s/%s", ApplicationName, ApplicationVersion)

var requestCounter atomic.Uint64

func b58encode(data []byte) string {
	return base58.EncodeAlphabet(data, base58.BTCAlphabet)
}

// uniqueID returns an identifier for a request that is unique within the process and
// unlikely to repeat across restarts. It doubles as the Digest nonce.
func uniqueID(remoteAddr string, remotePort string) string {
	var now = time.Now()
	var seq = requestCounter.Add(1)
	var id = make([]byte, 16)

	binary.BigEndian.PutUint64(id[0:8], murmur3.Sum64([]byte(fmt.Sprintf("%s:%s:%d:%d", remoteAddr, remotePort, now.UnixNano(), seq))))
	binary.BigEndian.PutUint32(id[8:12], uint32(now.Unix()))
	binary.BigEndian.PutUint32(id[12:16], uint32(seq))

	return b58encode(id)
}
