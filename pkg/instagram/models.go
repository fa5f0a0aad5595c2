package instagram

// ProfileResponse is the body of the web_profile_info endpoint
type ProfileResponse struct {
	Data struct {
		User *UserNode `json:"user"`
	} `json:"data"`
	statusFields
}

// RelationResponse is the body of a followers/following GraphQL query
type RelationResponse struct {
	Data struct {
		User *struct {
			EdgeFollow     *EdgeConnection `json:"edge_follow"`
			EdgeFollowedBy *EdgeConnection `json:"edge_followed_by"`
		} `json:"user"`
	} `json:"data"`
	statusFields
}

// statusFields are present on failure bodies of every endpoint
type statusFields struct {
	Status          string `json:"status"`
	Message         string `json:"message"`
	RequireLogin    bool   `json:"require_login"`
	RequiresToLogin bool   `json:"requires_to_login"`
}

// UserNode represents a user in either a profile or an edge list
type UserNode struct {
	ID               string          `json:"id"`
	Username         string          `json:"username"`
	FullName         string          `json:"full_name"`
	ProfilePicURL    string          `json:"profile_pic_url"`
	IsPrivate        bool            `json:"is_private"`
	IsVerified       bool            `json:"is_verified"`
	FollowedByViewer bool            `json:"followed_by_viewer"`
	EdgeFollow       *EdgeConnection `json:"edge_follow,omitempty"`
	EdgeFollowedBy   *EdgeConnection `json:"edge_followed_by,omitempty"`
}

// EdgeConnection is a counted, paginated list of users
type EdgeConnection struct {
	Count    int      `json:"count"`
	PageInfo PageInfo `json:"page_info"`
	Edges    []Edge   `json:"edges"`
}

// PageInfo contains pagination information
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// Edge wraps a single user node
type Edge struct {
	Node UserNode `json:"node"`
}

// loginResponse is the body of the ajax login and two-factor endpoints
type loginResponse struct {
	Authenticated     bool           `json:"authenticated"`
	User              bool           `json:"user"`
	UserID            string         `json:"userId"`
	Status            string         `json:"status"`
	Message           string         `json:"message"`
	TwoFactorRequired bool           `json:"two_factor_required"`
	TwoFactorInfo     *twoFactorInfo `json:"two_factor_info"`
	CheckpointURL     string         `json:"checkpoint_url"`
}

type twoFactorInfo struct {
	Identifier string `json:"two_factor_identifier"`
	Username   string `json:"username"`
}

// Profile is a resolved account
type Profile struct {
	ID               string
	Username         string
	FullName         string
	ProfilePicURL    string
	IsPrivate        bool
	IsVerified       bool
	FollowedByViewer bool
	FollowingCount   int
	FollowersCount   int
}

// RelationPage is one page of a followers or following list
type RelationPage struct {
	Users      []UserNode
	Count      int
	HasNext    bool
	NextCursor string
}

// LoginResult holds the cookies issued by a successful login
type LoginResult struct {
	SessionID string
	CSRFToken string
	UserID    string
}
