package objects

import "strings"

// Status files and older object caches use different names for a handful of
// columns. Empty targets drop the attribute.
var stateRenames = map[string]string{
	"check_execution_time":        "execution_time",
	"plugin_output":               "output",
	"long_plugin_output":          "long_output",
	"enable_notifications":        "notifications_enabled",
	"check_latency":               "latency",
	"performance_data":            "perf_data",
	"normal_check_interval":       "check_interval",
	"retry_check_interval":        "retry_interval",
	"state_history":               "",
	"modified_host_attributes":    "",
	"modified_service_attributes": "",
	"modified_attributes":         "",
}

var hostDropped = map[string]bool{
	"vrml_image": true,
	"2d_coords":  true,
	"3d_coords":  true,
}

var programStatusDropped = map[string]bool{
	"normal_check_interval": true,
	"next_comment_id":       true,
	"next_downtime_id":      true,
	"next_event_id":         true,
	"next_problem_id":       true,
	"next_notification_id":  true,
}

// ConvertAttr maps a dump attribute name onto the column it is stored in.
// ok is false when the attribute is not stored at all.
func ConvertAttr(t Type, key string) (string, bool) {
	switch t {
	case Host, Service, Contact:
		if to, found := stateRenames[key]; found {
			return to, to != ""
		}
		if t == Host && hostDropped[key] {
			return "", false
		}
	case ProgramStatus:
		if programStatusDropped[key] {
			return "", false
		}
		if rest, found := strings.CutPrefix(key, "enable_"); found {
			return rest + "_enabled", true
		}
	case Comment:
		if key == "author" {
			return "author_name", true
		}
	}
	return key, true
}

// columnsToClean are reset to their default when a full import updates an
// existing object whose definition no longer sets them.
var columnsToClean = map[Type][]string{
	Host:    {"action_url", "icon_image", "icon_image_alt", "notes", "notes_url", "statusmap_image"},
	Service: {"action_url", "icon_image", "icon_image_alt", "notes", "notes_url"},
}

// ColumnsToClean returns the reset-on-absence columns of t.
func ColumnsToClean(t Type) []string {
	return columnsToClean[t]
}
