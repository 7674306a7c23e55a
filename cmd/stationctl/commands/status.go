package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// statusResponse mirrors cmd/station's admin status payload.
type statusResponse struct {
	StationID    string   `json:"station_id"`
	OnlineUsers  []string `json:"online_users"`
	PendingRoams int      `json:"pending_roaming_jobs"`
	PushDepth    int      `json:"push_queue_depth"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the station's live session/queue status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := fetchStatus()
			if err != nil {
				return err
			}
			fmt.Print(formatStatus(resp, outputFormat))
			return nil
		},
	}
}

func fetchStatus() (*statusResponse, error) {
	resp, err := httpClient.Get("http://" + serverAddr + "/status")
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch status: unexpected HTTP status %d", resp.StatusCode)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &out, nil
}

func formatStatus(s *statusResponse, format string) string {
	if format == "json" {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Sprintf("error formatting status: %v\n", err)
		}
		return string(data) + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Station:       %s\n", s.StationID)
	fmt.Fprintf(&b, "Online users:  %d\n", len(s.OnlineUsers))
	fmt.Fprintf(&b, "Pending roams: %d\n", s.PendingRoams)
	fmt.Fprintf(&b, "Push depth:    %d\n", s.PushDepth)
	return b.String()
}
