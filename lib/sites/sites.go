// Package sites maps config entries onto the site adapter that speaks
// the target's protocol.
package sites

import (
	"fmt"

	"checkin-backend/lib/engine"
	"checkin-backend/lib/sites/discuz"
	"checkin-backend/lib/sites/starry"
	"checkin-backend/lib/sites/wordpress"
)

// Config is one site entry from the config file. Kind selects the
// adapter; the remaining fields only apply to the adapters that read
// them.
type Config struct {
	Kind    string `json:"kind"`
	BaseUrl string `json:"base_url"`
	// accounts as "user:pass" pairs separated by @, & or newlines
	Accounts string `json:"accounts"`

	// discuz
	SignPlugin    string `json:"sign_plugin"`
	VerifySeccode bool   `json:"verify_seccode"`

	// wordpress
	CheckinAction string `json:"checkin_action"`

	// starry
	LoginPath string `json:"login_path"`
	SignPath  string `json:"sign_path"`
}

// Kinds lists the adapter names New accepts.
func Kinds() []string {
	return []string{"discuz", "wordpress", "starry"}
}

func New(name string, cfg Config) (engine.Site, error) {
	switch cfg.Kind {
	case "discuz":
		return discuz.New(discuz.Options{
			Name:          name,
			BaseUrl:       cfg.BaseUrl,
			SignPlugin:    cfg.SignPlugin,
			VerifySeccode: cfg.VerifySeccode,
		})
	case "wordpress":
		return wordpress.New(wordpress.Options{
			Name:          name,
			BaseUrl:       cfg.BaseUrl,
			CheckinAction: cfg.CheckinAction,
		})
	case "starry":
		return starry.New(starry.Options{
			Name:      name,
			BaseUrl:   cfg.BaseUrl,
			LoginPath: cfg.LoginPath,
			SignPath:  cfg.SignPath,
		})
	default:
		return nil, fmt.Errorf("site %q has unknown kind %q", name, cfg.Kind)
	}
}
