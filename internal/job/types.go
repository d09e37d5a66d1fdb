package job

// Created is the job creation response.
type Created struct {
	ID     string `json:"job_id"`
	Status string `json:"status"`
}

// Status is the job status response.
type Status struct {
	Status   string  `json:"status"`
	Progress Payload `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

func (s *Status) Class() Class {
	return Classify(s.Status)
}
