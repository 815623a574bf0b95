package sqlstore

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/nagimport/ocimp/internal/storage"
)

// Config selects and addresses the datastore.
type Config struct {
	Dialect storage.Dialect

	// Path is the database file for SQLite. ":memory:" opens a private
	// in-memory database.
	Path string

	// Host may be a hostname or the path of a unix socket.
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool

	// RetryWindow bounds how long Open keeps retrying a refused or dropped
	// connection. Zero means 30 seconds.
	RetryWindow time.Duration
}

func (c Config) driver() (name, dsn string, err error) {
	switch c.Dialect {
	case storage.MySQL:
		return "mysql", mysqlDSN(c), nil
	case storage.SQLite:
		if strings.TrimSpace(c.Path) == "" {
			return "", "", fmt.Errorf("sqlite: database path is empty")
		}
		return "sqlite", sqliteConnString(c.Path), nil
	default:
		return "", "", fmt.Errorf("%w: %q", storage.ErrUnsupportedDialect, c.Dialect)
	}
}

func mysqlDSN(c Config) string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.DBName = c.Database
	mc.InterpolateParams = true

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	if strings.HasPrefix(host, "/") {
		mc.Net = "unix"
		mc.Addr = host
	} else {
		port := c.Port
		if port == 0 {
			port = 3306
		}
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if c.TLS {
		mc.TLSConfig = "true"
	}
	return mc.FormatDSN()
}

// sqliteConnString builds a modernc.org/sqlite connection string with
// busy_timeout set. OCIMP_LOCK_TIMEOUT overrides the 30s default.
func sqliteConnString(path string) string {
	path = strings.TrimSpace(path)

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("OCIMP_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
			sep = "&"
		}
		if !strings.Contains(conn, "_time_format=") {
			conn += sep + "_time_format=sqlite"
		}
		return conn
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_time_format=sqlite", path, busyMs)
}
