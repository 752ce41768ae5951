package gocbanalytics

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ConnectionString is the parsed form of a couchbases://host[:port] URL: no
// userinfo, no non-root path. Query parameters are applied to a
// ClusterOptionsBuilder via ApplyTo.
type ConnectionString struct {
	Scheme string
	Host   string
	Port   int

	params url.Values
}

// ParseConnectionString parses s into a ConnectionString, rejecting
// userinfo and any path beyond "/".
func ParseConnectionString(s string) (ConnectionString, error) {
	u, err := url.Parse(s)
	if err != nil {
		return ConnectionString{}, fmt.Errorf("gocbanalytics: parse connection string: %w", err)
	}

	if u.Scheme != "couchbases" && u.Scheme != "couchbase" {
		return ConnectionString{}, fmt.Errorf("gocbanalytics: unsupported connection string scheme %q", u.Scheme)
	}

	if u.User != nil {
		return ConnectionString{}, fmt.Errorf("gocbanalytics: connection string must not contain userinfo")
	}

	if path := strings.Trim(u.Path, "/"); path != "" {
		return ConnectionString{}, fmt.Errorf("gocbanalytics: connection string must not contain a path")
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return ConnectionString{}, fmt.Errorf("gocbanalytics: invalid port %q", p)
		}
	}

	return ConnectionString{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		params: u.Query(),
	}, nil
}

// Endpoint renders the fixed analytics request URL this connection string
// targets: https://host[:port]/api/v1/request.
func (cs ConnectionString) Endpoint() string {
	host := cs.Host
	if cs.Port != 0 {
		host = fmt.Sprintf("%s:%d", cs.Host, cs.Port)
	}

	return fmt.Sprintf("https://%s/api/v1/request", host)
}

// ApplyTo applies this connection string's query parameters to builder.
// Parameters are matched snake_case -> CamelCase against builder's exported
// fields via reflection. The special key security.trust_only_non_prod
// selects nonProdTrustSource when its value is "", "true", or "1"; no
// separate non-prod CA bundle is shipped, so that is the system trust
// pool. Other security.* keys are ignored. When a key is repeated, its
// last value wins; distinct keys are applied in sorted key order, not URL
// query order.
func (cs ConnectionString) ApplyTo(builder *ClusterOptionsBuilder) error {
	keys := make([]string, 0, len(cs.params))
	for k := range cs.params {
		keys = append(keys, k)
	}

	// url.Values iteration order is randomized by map iteration; "last one
	// wins" only has observable meaning for repeated keys with the same
	// name, which url.Values already preserves in encounter order within
	// cs.params[key]. Sorting the distinct keys just keeps ApplyTo's own
	// behavior deterministic across calls.
	sort.Strings(keys)

	for _, key := range keys {
		values := cs.params[key]
		if len(values) == 0 {
			continue
		}
		value := values[len(values)-1]

		if strings.HasPrefix(key, "security.") {
			if err := applySecurityParam(builder, key, value); err != nil {
				return err
			}

			continue
		}

		if err := applyReflectiveParam(builder, key, value); err != nil {
			return err
		}
	}

	return nil
}

func applySecurityParam(builder *ClusterOptionsBuilder, key, value string) error {
	switch key {
	case "security.trust_only_non_prod":
		switch value {
		case "", "true", "1":
			builder.TrustSource = nonProdTrustSource()
		default:
			return fmt.Errorf("gocbanalytics: security.trust_only_non_prod does not accept value %q", value)
		}

		return nil

	default:
		// Unrecognized security.* keys are accepted but ignored: the set of
		// trust-source selectors a connection string can name is
		// intentionally small, and rejecting unknown ones would make every
		// future trust option a breaking parse change.
		return nil
	}
}

func applyReflectiveParam(builder *ClusterOptionsBuilder, key, value string) error {
	fieldName := snakeToCamel(key)

	v := reflect.ValueOf(builder).Elem()
	field := v.FieldByName(fieldName)
	if !field.IsValid() || !field.CanSet() {
		// Unknown parameters are ignored rather than rejected, matching the
		// reflective-setter contract: a newer client talking to an older (or
		// newer) connection string producer should not hard-fail on an
		// option it doesn't recognize yet.
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
		return nil

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("gocbanalytics: connection string parameter %q: %w", key, err)
		}
		field.SetBool(b)

		return nil

	case reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("gocbanalytics: connection string parameter %q: %w", key, err)
			}
			field.SetInt(int64(d))

			return nil
		}

		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("gocbanalytics: connection string parameter %q: %w", key, err)
		}
		field.SetInt(n)

		return nil

	default:
		// Non-primitive fields (TrustSource, Deserializer, Logger) are not
		// reachable from connection string text and are silently skipped.
		return nil
	}
}

// snakeToCamel converts "user_agent_product" to "UserAgentProduct".
func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	var b strings.Builder

	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}

	return b.String()
}
