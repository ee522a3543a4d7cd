package leaderboard

import "time"

// Leaderboard is the competition metadata owned by the submission service.
type Leaderboard struct {
	ID       int64      `gorm:"column:id;primaryKey"`
	Name     string     `gorm:"column:name;type:text;not null"`
	Deadline *time.Time `gorm:"column:deadline"`
}

// TableName provides the explicit table binding for GORM.
func (Leaderboard) TableName() string {
	return "leaderboard"
}

// Active reports whether the leaderboard still accepts submissions at now.
// A leaderboard without a deadline never ends; a deadline equal to now counts as ended.
func (l Leaderboard) Active(now time.Time) bool {
	return l.Deadline == nil || l.Deadline.After(now)
}

// Ended is the complement of Active.
func (l Leaderboard) Ended(now time.Time) bool {
	return !l.Active(now)
}

// GPUType lists a runner a leaderboard accepts.
type GPUType struct {
	LeaderboardID int64  `gorm:"column:leaderboard_id;primaryKey;autoIncrement:false"`
	GPUType       string `gorm:"column:gpu_type;primaryKey;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (GPUType) TableName() string {
	return "gpu_type"
}

// Submission links a user's upload to a leaderboard.
type Submission struct {
	ID             int64     `gorm:"column:id;primaryKey"`
	LeaderboardID  int64     `gorm:"column:leaderboard_id;not null;index"`
	UserID         string    `gorm:"column:user_id;type:text;not null"`
	SubmissionTime time.Time `gorm:"column:submission_time;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Submission) TableName() string {
	return "submission"
}

// Run is one execution of a submission on a runner.
type Run struct {
	ID           int64    `gorm:"column:id;primaryKey"`
	SubmissionID int64    `gorm:"column:submission_id;not null;index"`
	Runner       string   `gorm:"column:runner;type:text;not null"`
	Score        *float64 `gorm:"column:score"`
	Passed       bool     `gorm:"column:passed;not null"`
	Secret       bool     `gorm:"column:secret;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Run) TableName() string {
	return "runs"
}

// UserInfo carries the display name for a platform user id.
type UserInfo struct {
	ID       string  `gorm:"column:id;primaryKey;type:text"`
	UserName *string `gorm:"column:user_name;type:text"`
}

// TableName provides the explicit table binding for GORM.
func (UserInfo) TableName() string {
	return "user_info"
}
