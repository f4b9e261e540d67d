package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const storedTimeHeaderName = "Ogate-Stored-Time"

// StoredResponse is a cached response snapshot together with the time
// it was received from the network.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was received.
	StoredAt time.Time
}

// StoredResponseToBytes serializes a response snapshot to its
// HTTP/1.1 wire representation, with the storage time carried in an
// internal header.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	res.Header.Set(storedTimeHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedTimeHeaderName)
	return bts, err
}

// BytesToStoredResponse is the inverse of StoredResponseToBytes.
// The returned response has an open body reading from the stored bytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedInt, err := strconv.ParseInt(res.Header.Get(storedTimeHeaderName), 10, 64); err == nil {
		sRes.StoredAt = time.Unix(storedInt, 0)
	}
	res.Header.Del(storedTimeHeaderName)
	return sRes, nil
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response.
func responseToBytes(res *http.Response) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		log.Warn().Err(err).Msg("Could not write response to bytes")
		return nil, err
	}
	// res.Write consumes the body, so set it back from the buffer
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	return bts, nil
}
