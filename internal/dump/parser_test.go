package dump

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nagimport/ocimp/internal/objects"
)

func collect(t *testing.T, p *Parser) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestParseDefineAndBareBlocks(t *testing.T) {
	in := `# generated by the core
define host {
	host_name	web01
	address	10.0.0.1
	}

hoststatus {
	host_name=web01
	plugin_output=OK - ping=1ms
	}
`
	evs := collect(t, NewParser(strings.NewReader(in)))
	require.Len(t, evs, 2)

	h := evs[0].Record
	assert.Equal(t, objects.Host, h.Type)
	assert.True(t, evs[0].Boundary)
	assert.Equal(t, "web01", h.Scalars["host_name"])
	assert.Equal(t, "10.0.0.1", h.Scalars["address"])
	assert.Equal(t, 2, h.Line)

	st := evs[1].Record
	assert.Equal(t, objects.Host, st.Type, "hoststatus is canonicalized")
	assert.False(t, evs[1].Boundary)
	assert.Equal(t, "OK - ping=1ms", st.Scalars["output"], "split on first delimiter, attribute converted")
}

func TestParseLineEndings(t *testing.T) {
	for name, nl := range map[string]string{"lf": "\n", "crlf": "\r\n", "cr": "\r"} {
		t.Run(name, func(t *testing.T) {
			in := strings.Join([]string{
				"define command {",
				"\tcommand_name\tcheck_ping",
				"\tcommand_line\t$USER1$/check_ping -H $HOSTADDRESS$",
				"\t}",
				"define command {",
				"\tcommand_name\tcheck_http",
				"\t}",
			}, nl)
			evs := collect(t, NewParser(strings.NewReader(in)))
			require.Len(t, evs, 2)
			assert.Equal(t, "check_ping", evs[0].Record.Scalars["command_name"])
			assert.Equal(t, "$USER1$/check_ping -H $HOSTADDRESS$", evs[0].Record.Scalars["command_line"])
			assert.Equal(t, "check_http", evs[1].Record.Scalars["command_name"])
		})
	}
}

func TestParseClearsValuelessKeys(t *testing.T) {
	in := "define host {\n\thost_name\tweb01\n\tnotes\tfrom template\n\tnotes\n\t_SLA\t99\n\t_SLA=\n}\n"
	evs := collect(t, NewParser(strings.NewReader(in)))
	require.Len(t, evs, 1)
	rec := evs[0].Record
	_, has := rec.Scalars["notes"]
	assert.False(t, has)
	assert.Empty(t, rec.Custom)
}

func TestParseCustomBag(t *testing.T) {
	in := `define host {
	host_name	web01
	_SLA	99.9
}
define timeperiod {
	timeperiod_name	workhours
	monday	09:00-17:00
	2024-12-24	00:00-24:00
}
`
	p := NewParser(strings.NewReader(in), WithTimeperiodColumns(map[string]bool{
		"timeperiod_name": true, "alias": true, "monday": true,
	}))
	evs := collect(t, p)
	require.Len(t, evs, 2)

	assert.Equal(t, map[string]string{"_SLA": "99.9"}, evs[0].Record.Custom)
	_, has := evs[0].Record.Scalars["_SLA"]
	assert.False(t, has)

	tp := evs[1].Record
	assert.True(t, evs[1].Boundary)
	assert.Equal(t, "09:00-17:00", tp.Scalars["monday"])
	assert.Equal(t, map[string]string{"2024-12-24": "00:00-24:00"}, tp.Custom)
}

func TestParseAttributeFilterAndHook(t *testing.T) {
	in := `info {
	created=1700000000
}
hoststatus {
	host_name=web01
	current_state=0
	bogus_field=1
}
`
	var headers []objects.Type
	p := NewParser(strings.NewReader(in),
		WithBlockHook(func(t objects.Type, line int) error {
			headers = append(headers, t)
			return nil
		}),
		WithAttributeFilter(func(t objects.Type, key string) bool {
			return t == objects.Host && key != "bogus_field"
		}),
	)
	evs := collect(t, p)
	require.Len(t, evs, 2)
	assert.Equal(t, []objects.Type{objects.Info, objects.Host}, headers)
	assert.Empty(t, evs[0].Record.Scalars)
	assert.Equal(t, map[string]any{"host_name": "web01", "current_state": "0"}, evs[1].Record.Scalars)
}

func TestParseHookErrorStops(t *testing.T) {
	boom := errors.New("boom")
	p := NewParser(strings.NewReader("host {\n}\n"), WithBlockHook(func(objects.Type, int) error { return boom }))
	_, err := p.Next()
	assert.ErrorIs(t, err, boom)
}

func TestParseUnterminatedBlock(t *testing.T) {
	p := NewParser(strings.NewReader("define host {\n\thost_name\tweb01\n"))
	_, err := p.Next()
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestParseBadHeader(t *testing.T) {
	p := NewParser(strings.NewReader("define\n"))
	_, err := p.Next()
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestPeek(t *testing.T) {
	typ, err := Peek(strings.NewReader("\n# comment\ninfo {\n\tversion=4.4.6\n}\n"))
	require.NoError(t, err)
	assert.Equal(t, objects.Info, typ)

	_, err = Peek(strings.NewReader("# nothing here\n"))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadNagiosConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nagios.cfg")
	content := `# main config
cfg_file=/etc/nagios/hosts.cfg
cfg_file=/etc/nagios/services.cfg
object_cache_file=/var/cache/objects.cache
xsddefault_status_file=/var/status.dat
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := ReadNagiosConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/nagios/hosts.cfg", "/etc/nagios/services.cfg"}, cfg.All("cfg_file"))
	assert.Equal(t, "/var/status.dat", cfg.StatusFile())
	assert.Equal(t, "/var/cache/objects.cache", cfg.ObjectCacheFile())

	require.NoError(t, os.WriteFile(path, []byte(content+"status_file=/var/status.log\n"), 0o644))
	cfg, err = ReadNagiosConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/status.log", cfg.StatusFile())

	_, err = ReadNagiosConfig(filepath.Join(dir, "missing.cfg"))
	assert.Error(t, err)
}
