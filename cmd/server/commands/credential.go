package commands

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/dkeye/securecall/internal/app/turn"
	"github.com/dkeye/securecall/internal/domain"
)

func credentialCmd() *cobra.Command {
	var (
		user   string
		device string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Issue a TURN credential for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.NewIdentity(user, device)
			if err != nil {
				return err
			}
			issuer := turn.NewIssuer(cfg.TURN.Host, cfg.TURN.Port, cfg.TURN.Secret, turn.WithTTL(cfg.TURN.TTL))
			cred, err := issuer.Issue(id.User, id.Device, ttl)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				turn.Credential
				ICEServers []webrtc.ICEServer `json:"ice_servers"`
			}{cred, issuer.ICEServers(id.User, id.Device)})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&device, "device", "", "device id (default \"default\")")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "credential lifetime (default turn.ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
