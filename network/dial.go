package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/gamesync/logger"
)

var ErrNoEndpoint = errors.New("no endpoint to connect to")

// Dial opens a websocket to rawURL. io carries transport options verbatim
// from the configuration:
//
//	header            map of extra request headers
//	query             map of query parameters appended to the URL
//	handshake_timeout duration string, or seconds as a number
//	subprotocols      list of offered subprotocols (default Subprotocol)
//
// Unknown keys are ignored.
func Dial(ctx context.Context, rawURL string, io map[string]any) (*WSConnection, error) {
	if rawURL == "" {
		return nil, ErrNoEndpoint
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", rawURL, err)
	}

	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{Subprotocol}
	header := http.Header{}

	for key, value := range io {
		switch key {
		case "header":
			for k, v := range toMap(value) {
				header.Set(k, fmt.Sprint(v))
			}
		case "query":
			q := u.Query()
			for k, v := range toMap(value) {
				q.Set(k, fmt.Sprint(v))
			}
			u.RawQuery = q.Encode()
		case "handshake_timeout":
			d, err := toDuration(value)
			if err != nil {
				return nil, fmt.Errorf("io.handshake_timeout: %w", err)
			}
			dialer.HandshakeTimeout = d
		case "subprotocols":
			if list, ok := value.([]any); ok {
				dialer.Subprotocols = dialer.Subprotocols[:0]
				for _, p := range list {
					dialer.Subprotocols = append(dialer.Subprotocols, fmt.Sprint(p))
				}
			} else if list, ok := value.([]string); ok {
				dialer.Subprotocols = list
			}
		default:
			logger.Log.Debugf("ignoring unknown io option %q", key)
		}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	return NewWSConnection(conn), nil
}

func toMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out
	}
	return nil
}

func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("unsupported duration %v (%T)", v, v)
}
