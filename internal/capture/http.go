package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// writeHTTPEntry parses the captured request and response as HTTP/1.x
// messages and writes a structured metadata file plus the decoded
// bodies. net/http's Response.Body transparently undoes
// chunked transfer-encoding, so the dumped response body is always
// the logical payload regardless of how the origin framed it on the
// wire.
func writeHTTPEntry(dir string, e *flowEntry) error {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(e.request)))
	if err != nil {
		return writeHTTPError(dir, e, fmt.Errorf("parsing request: %w", err))
	}
	reqBody, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return writeHTTPError(dir, e, fmt.Errorf("reading request body: %w", err))
	}

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(e.response)), req)
	if err != nil {
		return writeHTTPError(dir, e, fmt.Errorf("parsing response: %w", err))
	}
	resBody, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return writeHTTPError(dir, e, fmt.Errorf("reading response body: %w", err))
	}

	meta := fileMetadata{
		Address:  e.address,
		Protocol: e.protocol,
		Meta: httpMeta{
			Request: httpReqMeta{
				Method:   req.Method,
				Version:  req.Proto,
				Path:     req.URL.RequestURI(),
				Headers:  flattenHeaders(req.Header),
				BodySize: uint64(len(reqBody)),
				RawSize:  uint64(len(e.request)),
			},
			Response: httpResMeta{
				Reason:   trimStatus(res.Status),
				Code:     res.StatusCode,
				Version:  res.Proto,
				Headers:  flattenHeaders(res.Header),
				BodySize: uint64(len(resBody)),
				RawSize:  uint64(len(e.response)),
			},
		},
	}
	if err := writeMetaFile(dir, meta); err != nil {
		return err
	}
	if !isBlank(reqBody) {
		if err := os.WriteFile(filepath.Join(dir, "request.scap"), reqBody, 0o644); err != nil {
			return err
		}
	}
	if !isBlank(resBody) {
		if err := os.WriteFile(filepath.Join(dir, "response.scap"), resBody, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// writeHTTPError records a best-effort metadata file carrying the
// parse error instead of failing the whole flow, mirroring how an
// unparseable capture still leaves a trace behind.
func writeHTTPError(dir string, e *flowEntry, parseErr error) error {
	meta := fileMetadata{
		Address:  e.address,
		Protocol: e.protocol,
		Meta:     tcpMeta{},
		Error:    parseErr.Error(),
	}
	return writeMetaFile(dir, meta)
}

func flattenHeaders(h map[string][]string) [][2]string {
	var out [][2]string
	for name, values := range h {
		for _, v := range values {
			if name == "" || v == "" {
				continue
			}
			out = append(out, [2]string{name, v})
		}
	}
	return out
}

// trimStatus strips the leading "200 " from an http.Response.Status,
// leaving just the reason phrase.
func trimStatus(status string) string {
	for i, c := range status {
		if c == ' ' {
			return status[i+1:]
		}
	}
	return status
}
