package config

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// iniParser implements koanf's Parser interface for the station's
// key-value configuration file (§6: "a key-value file (\"INI\" shape)").
// It generalizes the teacher's yaml.Parser() usage to a small
// hand-rolled INI-like format, since no INI parser ships in the
// dependency pack: `[section]` headers introduce a map, `key = value`
// lines populate it, and a repeated `[neighbors]` header accumulates a
// list of maps (§6's `neighbors[]`) rather than overwriting a single one.
type iniParser struct{}

// IniParser returns the koanf Parser used to load the station's
// configuration file.
func IniParser() iniParser {
	return iniParser{}
}

// Unmarshal parses the INI-shaped byte stream into koanf's generic
// map[string]interface{} tree.
func (iniParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	var section string
	var cur map[string]interface{}

	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(strings.Trim(line, "[]"))
			if section == "neighbors" {
				m := make(map[string]interface{})
				list, _ := out["neighbors"].([]interface{})
				out["neighbors"] = append(list, m)
				cur = m
			} else {
				m, ok := out[section].(map[string]interface{})
				if !ok {
					m = make(map[string]interface{})
					out[section] = m
				}
				cur = m
			}
			continue
		}

		if cur == nil {
			return nil, fmt.Errorf("ini: key=value line outside of any section: %q", line)
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, fmt.Errorf("ini: malformed line %q, expected key = value", line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.Trim(strings.TrimSpace(line[idx+1:]), `"`)
		cur[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ini: scan config: %w", err)
	}
	return out, nil
}

// Marshal renders a koanf map back to the INI-shaped format, completing
// koanf's Parser interface. Neither the station's boot path nor stationctl
// calls it.
func (iniParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			fmt.Fprintf(&buf, "[%s]\n", k)
			writeKVSorted(&buf, v)
			buf.WriteByte('\n')
		case []interface{}:
			for _, entry := range v {
				em, ok := entry.(map[string]interface{})
				if !ok {
					continue
				}
				fmt.Fprintf(&buf, "[%s]\n", k)
				writeKVSorted(&buf, em)
				buf.WriteByte('\n')
			}
		default:
			fmt.Fprintf(&buf, "%s = %v\n", k, v)
		}
	}
	return buf.Bytes(), nil
}

func writeKVSorted(buf *bytes.Buffer, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s = %v\n", k, m[k])
	}
}
