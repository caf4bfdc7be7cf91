package cas

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
)

/*

Example config:

{
	"HTTP": {
		"Port":			8443,
		"Bind":			"127.0.0.1"
	},
	"Log": {
		"Filename":		"/var/log/cas/cas.log"
	},
	"TicketDB": {
		"Host":			"cas.example.com",
		"Database": 	"cas",
		"User":			"jim",
		"Password":		"123",
		"SSL":			true
	},
	"Ticket": {
		"ExpiryMinutes":	5,
		"RandLength":		32
	},
	"Callback": {
		"TimeoutSeconds":	10
	},
	"Authorization": {
		"AttributeFormat": "jasig",
		"Services": [
			{
				"Pattern":		"https://app.example.com/*",
				"AllowProxy":	true,
				"Callbacks":	["user_attributes"],
				"LogoutAllow":	true,
				"LogoutURL":	"https://app.example.com/logout"
			}
		]
	}
}

*/

type DBConnection struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSL      bool
}

func (x *DBConnection) Connect() (*sql.DB, error) {
	return sql.Open(x.DriverName(), x.ConnectionString())
}

func (x *DBConnection) DriverName() string {
	if x.Driver == "" {
		return "postgres"
	}
	return x.Driver
}

func (x *DBConnection) ConnectionString() string {
	sslmode := "disable"
	if x.SSL {
		sslmode = "require"
	}
	conStr := fmt.Sprintf("host=%v user=%v password=%v dbname=%v sslmode=%v", x.Host, x.User, x.Password, x.Database, sslmode)
	if x.Port != 0 {
		conStr += fmt.Sprintf(" port=%v", x.Port)
	}
	return conStr
}

type ConfigHTTP struct {
	Port int
	Bind string
}

type ConfigLog struct {
	Filename string
}

type ConfigTicket struct {
	// ExpiryMinutes is TICKET_EXPIRE_MINUTES: a ticket is expired once
	// now >= createdAt + ExpiryMinutes.
	ExpiryMinutes int
	// RandLength is the length of the random alphanumeric segment of a
	// ticket string. The format regexes are derived from this value.
	RandLength int
}

type ConfigCallback struct {
	TimeoutSeconds int
}

// ConfigService is the policy for one service (or glob pattern of services).
type ConfigService struct {
	// Pattern is matched against the normalized service URL. '*' matches
	// any run of characters; everything else is literal.
	Pattern string
	// AllowProxy permits this service to request proxy-granting tickets.
	AllowProxy bool
	// AllowedCallbacks restricts the pgtUrl values this service may use.
	// Empty means any HTTPS callback is acceptable (when AllowProxy is set).
	AllowedCallbacks []string
	// Callbacks names the attribute-producing functions run for this service.
	Callbacks []string
	// LogoutAllow opts this service into single-logout notices.
	LogoutAllow bool
	// LogoutURL overrides the destination of the single-logout notice.
	// Empty means the notice goes to the service URL itself.
	LogoutURL string
}

type ConfigAuthorization struct {
	// AttributeFormat selects the attribute encoding of v3 validation
	// responses: "jasig", "rubycas" or "namevalue".
	AttributeFormat string
	Services        []ConfigService
}

type Config struct {
	HTTP          ConfigHTTP
	Log           ConfigLog
	TicketDB      DBConnection
	Ticket        ConfigTicket
	Callback      ConfigCallback
	Authorization ConfigAuthorization
}

func (x *Config) Reset() {
	*x = Config{}
	x.HTTP.Bind = "127.0.0.1"
	x.HTTP.Port = 8443
	x.Ticket.ExpiryMinutes = 5
	x.Ticket.RandLength = DefaultTicketRandLength
	x.Callback.TimeoutSeconds = 10
	x.Authorization.AttributeFormat = "jasig"
}

func (x *Config) LoadFile(filename string) error {
	x.Reset()
	all, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(all, x); err != nil {
		return err
	}
	return nil
}
