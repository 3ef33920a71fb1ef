package transport

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ProxyURL builds a proxy URL for WithProxy. kind is http, https or socks5.
func ProxyURL(kind, host string, port int, login, password string) (*url.URL, error) {
	switch kind {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("unsupported proxy type %q", kind)
	}
	if host == "" {
		return nil, fmt.Errorf("proxy host is required")
	}

	u := &url.URL{
		Scheme: kind,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
	}
	if login != "" || password != "" {
		u.User = url.UserPassword(login, password)
	}
	return u, nil
}
