package db

// Token is the persisted session: the access token, the refresh token and
// the id of the logged in user. There is at most one row (ID 1); the three
// values are always written and cleared together.
type Token struct {
	ID           uint   `gorm:"primaryKey" json:"-"`
	AccessToken  string `gorm:"column:token" json:"token,omitempty"`
	RefreshToken string `gorm:"column:refresh_token" json:"refreshToken,omitempty"`
	UserID       string `gorm:"column:logged_in_user_id" json:"loggedInUserId,omitempty"`
}

// TableName pins the table name so renaming the struct does not orphan stored sessions.
func (Token) TableName() string { return "session_tokens" }
