package clientcmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

// NewPublishCommand returns the "publish" command, a small client for the
// send-key publish endpoint. apiURL supplies the server base URL.
func NewPublishCommand(apiURL func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a channel by send key",
		RunE: func(cmd *cobra.Command, args []string) error {
			sendKey, _ := cmd.Flags().GetString("sendkey")
			title, _ := cmd.Flags().GetString("text")
			body, _ := cmd.Flags().GetString("desp")
			if sendKey == "" {
				return fmt.Errorf("--sendkey is required")
			}

			q := url.Values{}
			q.Set("sendkey", sendKey)
			q.Set("text", title)
			q.Set("desp", body)
			resp, err := http.Get(apiURL() + "/sub?" + q.Encode())
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, _ := io.ReadAll(resp.Body)
			fmt.Printf("status: %s\n%s\n", resp.Status, out)
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("publish rejected: %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().String("sendkey", "", "Channel send key")
	cmd.Flags().String("text", "", "Notification title")
	cmd.Flags().String("desp", "", "Notification body")
	return cmd
}
