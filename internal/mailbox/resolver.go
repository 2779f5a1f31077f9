package mailbox

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Common IMAP servers for popular providers
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com:993",
	"googlemail.com": "imap.gmail.com:993",
	"outlook.com":    "outlook.office365.com:993",
	"hotmail.com":    "outlook.office365.com:993",
	"live.com":       "outlook.office365.com:993",
	"yahoo.com":      "imap.mail.yahoo.com:993",
	"yandex.ru":      "imap.yandex.ru:993",
	"yandex.com":     "imap.yandex.com:993",
	"mail.ru":        "imap.mail.ru:993",
	"icloud.com":     "imap.mail.me.com:993",
	"me.com":         "imap.mail.me.com:993",
	"aol.com":        "imap.aol.com:993",
	"zoho.com":       "imap.zoho.com:993",
	"proton.me":      "127.0.0.1:1143", // ProtonMail Bridge
	"fastmail.com":   "imap.fastmail.com:993",
	"gmx.de":         "imap.gmx.net:993",
	"web.de":         "imap.web.de:993",
}

// ServerResolver finds the IMAP server for an address when none is configured
type ServerResolver struct {
	probe    func(hostport string) bool
	lookupMX func(domain string) ([]*net.MX, error)
}

// NewServerResolver creates a resolver that probes hosts over TCP
func NewServerResolver() *ServerResolver {
	return &ServerResolver{
		probe:    probeTCP,
		lookupMX: net.LookupMX,
	}
}

// Resolve returns host:port for the address's IMAP server.
// Order: known providers, imap./mail./bare domain, MX-derived hosts, imap.<domain>.
func (r *ServerResolver) Resolve(address string) (string, error) {
	domain := domainOf(address)
	if domain == "" {
		return "", fmt.Errorf("invalid email format: %q", address)
	}

	if server, ok := knownIMAPServers[domain]; ok {
		return server, nil
	}

	for _, host := range []string{"imap." + domain, "mail." + domain, domain} {
		if hostport := net.JoinHostPort(host, "993"); r.probe(hostport) {
			return hostport, nil
		}
	}

	if server, ok := r.resolveViaMX(domain); ok {
		return server, nil
	}

	return net.JoinHostPort("imap."+domain, "993"), nil
}

// resolveViaMX derives imap./mail. hosts from the primary MX,
// e.g. mx.example.com -> imap.example.com
func (r *ServerResolver) resolveViaMX(domain string) (string, bool) {
	records, err := r.lookupMX(domain)
	if err != nil || len(records) == 0 {
		return "", false
	}

	mxHost := strings.TrimSuffix(records[0].Host, ".")
	parts := strings.SplitN(mxHost, ".", 2)
	if len(parts) != 2 {
		return "", false
	}

	for _, host := range []string{"imap." + parts[1], "mail." + parts[1]} {
		if hostport := net.JoinHostPort(host, "993"); r.probe(hostport) {
			return hostport, true
		}
	}
	return "", false
}

func probeTCP(hostport string) bool {
	conn, err := net.DialTimeout("tcp", hostport, 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func domainOf(address string) string {
	parts := strings.Split(address, "@")
	if len(parts) != 2 || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
