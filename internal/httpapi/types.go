package httpapi

import "profilescrape-engine/internal/scheduler"

type startSessionReq struct {
	URL   string `json:"url"`
	TabID string `json:"tab_id"`
}

type startSessionResp struct {
	TabID   scheduler.TabID `json:"tab_id"`
	Status  string          `json:"status"`
	Warning string          `json:"warning,omitempty"`
}

type setSecretReq struct {
	Key string `json:"key"`
}
