package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/config"
)

// applicationName tags journal sessions in pg_stat_activity.
const applicationName = "fpserver"

// BuildConnString returns the postgres:// URL for cfg. Credentials are
// userinfo-escaped and IPv6 hosts bracketed.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
		RawQuery: url.Values{
			"sslmode":          {sslMode},
			"application_name": {applicationName},
		}.Encode(),
	}
	return u.String()
}
