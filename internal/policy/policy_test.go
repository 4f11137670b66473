package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *Policy {
	return New(map[string]Server{
		"core": {
			SearchRoots:    []string{"/opt/dkg", "/etc/nginx/sites-enabled"},
			ImportantPaths: []string{"/opt/dkg/dkg-node/.env"},
			Aliases:        map[string]string{"env": "/opt/dkg/.env"},
		},
	}, nil, nil)
}

func TestIsExcluded(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		path string
		want bool
	}{
		{"/opt/dkg/config.json", false},
		{"/opt/dkg/node_modules/pkg/index.js", true},
		{"/srv/app/.git/config", true},
		{"/srv/app/dist.browser/app.js", true},
		{"/var/cache/nginx/x", true},
		{"/etc/cache", false}, // file named like an excluded dir
		{"relative/tmp/file", true},
		{"/opt/distribution/file", false},
		{"/opt/app/node_modules/../x.conf", true},
		{"/opt/./app/../app/x.conf", false},
		{"/var/cache/", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsExcluded(tt.path))
		})
	}
}

func TestCustomExclusions(t *testing.T) {
	p := New(nil, []string{"/secrets/", ""}, nil)
	assert.True(t, p.IsExcluded("/etc/secrets/key"))
	assert.False(t, p.IsExcluded("/opt/node_modules/x"))
}

func TestResolve(t *testing.T) {
	p := testPolicy()

	got, err := p.Resolve("core", "env")
	require.NoError(t, err)
	assert.Equal(t, "/opt/dkg/.env", got)

	got, err = p.Resolve("core", "/etc/hosts")
	require.NoError(t, err)
	assert.Equal(t, "/etc/hosts", got)

	_, err = p.Resolve("edge", "env")
	assert.True(t, errors.Is(err, ErrUnknownAlias))
}

func TestCategorize(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		path string
		want []string
	}{
		{"/opt/dkg/.env", []string{"env"}},
		{"/opt/dkg/config/config.json", []string{"conf", "json"}},
		{"/etc/systemd/system/otnode.service", []string{"service"}},
		{"/root/.origintrail_noderc", []string{"rc"}},
		{"/var/log/nginx/error.log", []string{"log"}},
		{"/var/log/syslog.log.1", []string{"log"}},
		{"/usr/bin/node", nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Categorize(tt.path))
		})
	}
}

func TestCacheKeyIsPure(t *testing.T) {
	assert.Equal(t, "file:core:/etc/x.conf", CacheKey("core", "/etc/x.conf"))
	assert.Equal(t, CacheKey("core", "/etc/x.conf"), CacheKey("core", "/etc/x.conf"))
	assert.NotEqual(t, CacheKey("core", "/etc/x.conf"), CacheKey("edge", "/etc/x.conf"))
	assert.Equal(t, "idx:category:env", CategorySetKey("env"))
	assert.Equal(t, "edge:/a", MemberKey("edge", "/a"))
}

func TestParseFileRequest(t *testing.T) {
	req, err := ParseFileRequest(" Core : /opt/dkg/.env ")
	require.NoError(t, err)
	assert.Equal(t, FileRequest{Server: "core", Path: "/opt/dkg/.env"}, req)

	req, err = ParseFileRequest("edge:C:/weird")
	require.NoError(t, err)
	assert.Equal(t, "C:/weird", req.Path)

	for _, bad := range []string{"", "core", ":/etc", "core:"} {
		_, err := ParseFileRequest(bad)
		assert.True(t, errors.Is(err, ErrInvalidRequest), bad)
	}
}

func TestCommands(t *testing.T) {
	p := New(nil, []string{"node_modules", ".git"}, nil)

	assert.Equal(t,
		"find '/opt/dkg' -type f -not -path '*/.git/*' -not -path '*/node_modules/*' 2>/dev/null",
		p.ListCommand("/opt/dkg"))
	assert.Equal(t,
		"find '/opt' -type f -name '*.env' -not -path '*/.git/*' -not -path '*/node_modules/*' 2>/dev/null",
		p.FindCommand("/opt", "*.env"))
	assert.Equal(t, `cat -- '/tmp/it'\''s'`, ReadCommand("/tmp/it's"))
	assert.Equal(t, "journalctl -u 'otnode' -n 50 --no-pager", LogsCommand("otnode", 0))
	assert.Equal(t, "journalctl -u 'nginx' -n 10 --no-pager", LogsCommand("nginx", 10))
}
