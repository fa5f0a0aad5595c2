package instagram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// AppID is sent as X-IG-App-ID by the web client
	AppID = "936619743392459"

	// ProfileEndpoint resolves a username to a profile
	ProfileEndpoint = "/api/v1/users/web_profile_info/"

	// GraphQLEndpoint serves the followers and following lists
	GraphQLEndpoint = "/graphql/query/"

	LoginPageEndpoint = "/accounts/login/"
	LoginEndpoint     = "/api/v1/web/accounts/login/ajax/"
	TwoFactorEndpoint = "/api/v1/web/accounts/login/ajax/two_factor/"

	// FollowersQueryHash is the GraphQL query hash for followers
	FollowersQueryHash = "c76146de99bb02f6415203be841dd25a"

	// FollowingQueryHash is the GraphQL query hash for following
	FollowingQueryHash = "d04b0a864b4b54837c0d870b0e77e076"

	// MaxPageSize is the largest page the GraphQL endpoint returns
	MaxPageSize = 50

	// ValidationUsername is the profile looked up to validate a session
	ValidationUsername = "instagram"
)

// Relation selects which list of a target is fetched
type Relation string

const (
	RelationFollowing Relation = "following"
	RelationFollowers Relation = "followers"
)

// QueryHash returns the GraphQL query hash for the relation
func (r Relation) QueryHash() string {
	if r == RelationFollowers {
		return FollowersQueryHash
	}
	return FollowingQueryHash
}

// Valid reports whether r is a known relation
func (r Relation) Valid() bool {
	return r == RelationFollowing || r == RelationFollowers
}

// ProfileURL constructs the URL for fetching a user's profile
func ProfileURL(baseURL, username string) string {
	params := url.Values{}
	params.Set("username", username)
	return fmt.Sprintf("%s%s?%s", baseURL, ProfileEndpoint, params.Encode())
}

// RelationURL constructs the GraphQL URL for one page of a relation
func RelationURL(baseURL string, relation Relation, userID string, first int, after string) string {
	if first <= 0 || first > MaxPageSize {
		first = MaxPageSize
	}

	variables := map[string]interface{}{
		"id":    userID,
		"first": first,
	}
	if after != "" {
		variables["after"] = after
	}
	encoded, _ := json.Marshal(variables)

	params := url.Values{}
	params.Set("query_hash", relation.QueryHash())
	params.Set("variables", string(encoded))

	return fmt.Sprintf("%s%s?%s", baseURL, GraphQLEndpoint, params.Encode())
}

// GetUserProfileURL constructs the public profile URL for a user
func GetUserProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/", BaseURL, username)
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if !usernamePattern.MatchString(username) {
		return false
	}
	// Periods cannot lead, trail, or repeat
	if strings.HasPrefix(username, ".") || strings.HasSuffix(username, ".") || strings.Contains(username, "..") {
		return false
	}
	return true
}

// SanitizeUsername normalizes a handle typed or pasted by a user.
// It accepts "@name", "name/", and profile URLs, and lowercases the result.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	if username == "" {
		return ""
	}

	for _, prefix := range []string{"https://", "http://", "www."} {
		username = strings.TrimPrefix(username, prefix)
	}
	if rest, ok := strings.CutPrefix(strings.ToLower(username), "instagram.com/"); ok {
		username = rest
	}
	if i := strings.IndexAny(username, "?#"); i >= 0 {
		username = username[:i]
	}

	username = strings.TrimPrefix(username, "@")
	username = strings.TrimRight(username, "/ ")

	return strings.ToLower(username)
}
