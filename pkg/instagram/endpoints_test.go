package instagram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileURL(t *testing.T) {
	tests := []struct {
		name     string
		username string
		expected string
	}{
		{"simple username", "testuser", fmt.Sprintf("%s%s?username=testuser", BaseURL, ProfileEndpoint)},
		{"username with underscore", "test_user", fmt.Sprintf("%s%s?username=test_user", BaseURL, ProfileEndpoint)},
		{"username with dots", "test.user", fmt.Sprintf("%s%s?username=test.user", BaseURL, ProfileEndpoint)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ProfileURL(BaseURL, tt.username)
			assert.Equal(t, tt.expected, result)

			_, err := url.Parse(result)
			assert.NoError(t, err)
		})
	}
}

func TestRelationURL(t *testing.T) {
	tests := []struct {
		name      string
		relation  Relation
		first     int
		after     string
		wantHash  string
		wantFirst float64
		wantAfter bool
	}{
		{"followers first page", RelationFollowers, 50, "", FollowersQueryHash, 50, false},
		{"following with cursor", RelationFollowing, 50, "QVFE", FollowingQueryHash, 50, true},
		{"page size clamped", RelationFollowing, 500, "", FollowingQueryHash, MaxPageSize, false},
		{"zero page size defaults", RelationFollowers, 0, "", FollowersQueryHash, MaxPageSize, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RelationURL(BaseURL, tt.relation, "42", tt.first, tt.after)

			parsed, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, GraphQLEndpoint, parsed.Path)
			assert.Equal(t, tt.wantHash, parsed.Query().Get("query_hash"))

			var vars map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(parsed.Query().Get("variables")), &vars))
			assert.Equal(t, "42", vars["id"])
			assert.Equal(t, tt.wantFirst, vars["first"])
			_, hasAfter := vars["after"]
			assert.Equal(t, tt.wantAfter, hasAfter)
			if tt.wantAfter {
				assert.Equal(t, tt.after, vars["after"])
			}
		})
	}
}

func TestRelation(t *testing.T) {
	assert.True(t, RelationFollowing.Valid())
	assert.True(t, RelationFollowers.Valid())
	assert.False(t, Relation("likes").Valid())
	assert.Equal(t, FollowersQueryHash, RelationFollowers.QueryHash())
	assert.Equal(t, FollowingQueryHash, RelationFollowing.QueryHash())
}

func TestIsValidUsername(t *testing.T) {
	tests := []struct {
		username string
		valid    bool
	}{
		{"validuser", true},
		{"user_123", true},
		{"user.name", true},
		{"a", true},
		{"abcdefghijklmnopqrstuvwxyz1234", true},
		{"", false},
		{"abcdefghijklmnopqrstuvwxyz12345", false},
		{"user-name", false},
		{"user name", false},
		{"user@name", false},
		{".leading", false},
		{"trailing.", false},
		{"double..dot", false},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidUsername(tt.username))
		})
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"username", "username"},
		{"@username", "username"},
		{"  @UserName/ ", "username"},
		{"https://www.instagram.com/some.user/", "some.user"},
		{"instagram.com/some_user?igshid=abc", "some_user"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeUsername(tt.input))
		})
	}
}

func TestGetUserProfileURL(t *testing.T) {
	assert.Equal(t, BaseURL+"/someone/", GetUserProfileURL("someone"))
	assert.Equal(t, "", GetUserProfileURL(""))
}
