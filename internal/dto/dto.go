package dto

import "time"

// >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>
type CreateSessionReq struct {
	Owner  string   `json:"owner"`  // worker/container id
	Origin string   `json:"origin"` // network origin the session is bound to
	Mode   string   `json:"mode"`   // "private" | "public"
	Repos  []string `json:"repos"`  // candidate repositories
}
type CreateSessionResp struct {
	SessionID string      `json:"sessionID"`
	Token     string      `json:"token"` // returned exactly once
	Mode      string      `json:"mode"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Repos     []RepoGrant `json:"repos"` // filtered candidates with worktree paths
}
type RepoGrant struct {
	Repo       string `json:"repo"`
	Path       string `json:"path"`
	Visibility string `json:"visibility"`
}

// >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>
type DeleteSessionReq struct {
	Token string `json:"token"`
}
type DeleteSessionResp struct {
	Removed bool `json:"removed"`
}

// >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>
type HeartbeatResp struct {
	SessionID string    `json:"sessionID"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>
type VisibilityQueryReq struct {
	Repos []string `json:"repos"`
}
type VisibilityQueryResp struct {
	Visibility map[string]string `json:"visibility"`
}

// >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>
type GitOpReq struct {
	Op   string   `json:"op"`   // push | fetch | ls-remote | status | log
	Repo string   `json:"repo"` // explicit target; wins over any payload field
	Args []string `json:"args"` // refs only, never flags

	// Payload carries structured fields of heterogeneous operation
	// shapes; "repo" inside it is the second-precedence target.
	Payload map[string]string `json:"payload,omitempty"`
}
type GitOpResp struct {
	Output string `json:"output"`
}

// >>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>>
type AuditListResp struct {
	Entries []AuditItem `json:"entries"`
}
type AuditItem struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	TokenDigest string    `json:"tokenDigest"`
	Origin      string    `json:"origin"`
	Operation   string    `json:"operation"`
	Repo        string    `json:"repo"`
	Mode        string    `json:"mode"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason"`
	StatusCode  int       `json:"statusCode"`
}
