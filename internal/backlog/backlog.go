// Package backlog defines the stories and epics a build walks through.
package backlog

// Status is the lifecycle state of a single story within a build.
type Status string

// Story status constants.
const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusDone     Status = "done"
	StatusError    Status = "error"
)

// Terminal reports whether a story in this status is never revisited.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// WorkItem is one buildable story.
type WorkItem struct {
	ID      string `yaml:"id" json:"id"`
	Title   string `yaml:"title" json:"title"`
	Body    string `yaml:"body" json:"body"`
	GroupID string `yaml:"-" json:"groupId"`
	Status  Status `yaml:"-" json:"status"`
}

// WorkGroup is an epic: an ordered list of stories.
type WorkGroup struct {
	ID    string     `yaml:"id" json:"id"`
	Title string     `yaml:"title" json:"title"`
	Items []WorkItem `yaml:"stories" json:"stories"`
}

// Counts summarises stories by status.
type Counts struct {
	Pending  int `json:"pending"`
	Building int `json:"building"`
	Done     int `json:"done"`
	Error    int `json:"error"`
	Total    int `json:"total"`
}

// Flatten returns the traversal order of a build: epic order, then story
// order within each epic. Every returned item is Pending and carries its
// epic's ID. The input groups are not modified.
func Flatten(groups []WorkGroup) []WorkItem {
	var items []WorkItem
	for _, g := range groups {
		for _, it := range g.Items {
			it.GroupID = g.ID
			it.Status = StatusPending
			items = append(items, it)
		}
	}
	return items
}

// CountByStatus tallies items by status. Items with an unrecognised status
// count toward Total only.
func CountByStatus(items []WorkItem) Counts {
	var c Counts
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusBuilding:
			c.Building++
		case StatusDone:
			c.Done++
		case StatusError:
			c.Error++
		}
	}
	c.Total = len(items)
	return c
}
