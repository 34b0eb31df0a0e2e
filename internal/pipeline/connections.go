package pipeline

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// connectionPatterns matches connection strings for common databases and
// brokers. Passwords are never copied into the extracted record; host
// and port are preserved for correlation.
var connectionPatterns = []struct {
	Type    string
	Pattern *regexp.Regexp
}{
	{"jdbc", regexp.MustCompile(`(?i)jdbc:([a-z0-9]+)://([^/\s]+)(?:/([^\s?"']+))?`)},
	{"mongodb", regexp.MustCompile(`(?i)mongodb(?:\+srv)?://(?:([^:/@\s]+):([^@\s]+)@)?([^/\s"']+)(?:/([^\s?"']+))?`)},
	{"postgresql", regexp.MustCompile(`(?i)postgres(?:ql)?://(?:([^:/@\s]+):([^@\s]+)@)?([^/\s"']+)(?:/([^\s?"']+))?`)},
	{"mysql", regexp.MustCompile(`(?i)mysql://(?:([^:/@\s]+):([^@\s]+)@)?([^/\s"']+)(?:/([^\s?"']+))?`)},
	{"redis", regexp.MustCompile(`(?i)redis://(?:([^:/@\s]+):([^@\s]+)@)?([^/\s"']+)(?:/(\d+))?`)},
	{"amqp", regexp.MustCompile(`(?i)amqps?://(?:([^:/@\s]+):([^@\s]+)@)?([^/\s"']+)(?:/([^\s?"']+))?`)},
	{"sqlserver", regexp.MustCompile(`(?i)(?:mssql|sqlserver)://(?:([^:/@\s]+):([^@\s]+)@)?([^/\s"']+)(?:/([^\s?"']+))?`)},
}

// fields routinely holding configuration text worth scanning.
var connectionFields = []string{
	"config",
	"environment_vars",
	"env_vars",
	"connection_strings",
	"configuration",
	"settings",
	"connection_string",
}

// extractConnections pulls {technology, host, port} hints out of
// configuration-ish fields on a repository or codebase event.
func extractConnections(data map[string]any) []any {
	var found []map[string]any
	for _, field := range connectionFields {
		switch v := data[field].(type) {
		case string:
			found = append(found, extractFromString(v)...)
		case map[string]any:
			for _, value := range v {
				if s, ok := value.(string); ok {
					found = append(found, extractFromString(s)...)
				}
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					found = append(found, extractFromString(s)...)
				}
			}
		}
	}
	unique := dedupeConnections(found)
	if len(unique) == 0 {
		return nil
	}
	out := make([]any, len(unique))
	for i, c := range unique {
		out[i] = c
	}
	return out
}

// extractFromString collects connection matches from one text value.
// A jdbc: URL also matches the bare scheme pattern, so results are
// deduplicated here.
func extractFromString(text string) []map[string]any {
	var out []map[string]any
	for _, cp := range connectionPatterns {
		for _, match := range cp.Pattern.FindAllStringSubmatch(text, -1) {
			conn := parseConnection(cp.Type, match)
			if conn != nil {
				out = append(out, conn)
			}
		}
	}
	return dedupeConnections(out)
}

func parseConnection(connType string, match []string) map[string]any {
	conn := map[string]any{"type": connType}

	switch connType {
	case "jdbc":
		// groups: subprotocol, host:port, database
		if len(match) > 1 && match[1] != "" {
			conn["type"] = strings.ToLower(match[1])
		}
		applyHostPort(conn, match[2])
		if len(match) > 3 && match[3] != "" {
			conn["database"] = match[3]
		}
	default:
		// groups: username, password, host:port, database
		if match[1] != "" {
			conn["username"] = match[1]
		}
		if match[2] != "" {
			conn["has_password"] = true
		}
		applyHostPort(conn, match[3])
		if len(match) > 4 && match[4] != "" {
			conn["database"] = match[4]
		}
	}

	if asString(conn["host"]) == "" {
		return nil
	}
	return conn
}

func applyHostPort(conn map[string]any, hostPort string) {
	if hostPort == "" {
		return
	}
	host := hostPort
	if i := strings.LastIndexByte(hostPort, ':'); i >= 0 {
		if port, err := strconv.Atoi(hostPort[i+1:]); err == nil {
			host = hostPort[:i]
			conn["port"] = port
		}
	}
	conn["host"] = host
}

func dedupeConnections(conns []map[string]any) []map[string]any {
	type key struct {
		typ, host, database string
		port                int
	}
	seen := map[key]bool{}
	unique := make([]map[string]any, 0, len(conns))
	for _, c := range conns {
		port, _ := asInt(c["port"])
		k := key{asString(c["type"]), asString(c["host"]), asString(c["database"]), port}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, c)
	}
	// Stable output order keeps re-runs byte-identical.
	sort.SliceStable(unique, func(i, j int) bool {
		if a, b := asString(unique[i]["type"]), asString(unique[j]["type"]); a != b {
			return a < b
		}
		if a, b := asString(unique[i]["host"]), asString(unique[j]["host"]); a != b {
			return a < b
		}
		pi, _ := asInt(unique[i]["port"])
		pj, _ := asInt(unique[j]["port"])
		return pi < pj
	})
	return unique
}
