package models

// PlannerStatus is a JSON-serializable read model of a point-in-time
// snapshot of lane counts, pool occupancy and recent errors. Nothing in
// this module builds one: the status CLI command prints planner.Status.
type PlannerStatus struct {
	TasksByLane    map[TaskStatus]int `json:"tasksByLane"`
	PoolSize       int                `json:"poolSize"`
	IdleWorkers    int                `json:"idleWorkers"`
	WorkingWorkers int                `json:"workingWorkers"`
	WaitingWorkers int                `json:"waitingWorkers"`
	StoppedWorkers int                `json:"stoppedWorkers"`
	RecentErrors   []PlannerErrorEntry `json:"recentErrors,omitempty"`
}
