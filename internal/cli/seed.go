package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"shareit/internal/domain"
	"shareit/internal/models"
	"shareit/internal/service"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by "shareit seed".
type seedFile struct {
	Users []struct {
		Name           string `yaml:"name"`
		Email          string `yaml:"email"`
		TelegramChatID int64  `yaml:"telegram_chat_id"`
	} `yaml:"users"`
	Items []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		OwnerEmail  string `yaml:"owner_email"`
		Available   *bool  `yaml:"available"`
	} `yaml:"items"`
}

func newSeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users and items from a YAML file",
		Long:  "Create the users and items listed in a seed file. Items name their owner by email.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			catalog := service.NewCatalogService(a.repo, a.logger)
			return runSeed(cmd.Context(), cmd.OutOrStdout(), catalog, data)
		},
	}

	cmd.Flags().StringVar(&file, "file", "configs/seed.yaml", "seed file path")
	return cmd
}

func runSeed(ctx context.Context, out io.Writer, catalog domain.CatalogService, data []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	owners := make(map[string]int64, len(seed.Users))
	for _, u := range seed.Users {
		user, err := catalog.CreateUser(ctx, &models.User{
			Name:           u.Name,
			Email:          u.Email,
			TelegramChatID: u.TelegramChatID,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		owners[user.Email] = user.ID
		fmt.Fprintf(out, "user #%d %s <%s>\n", user.ID, user.Name, user.Email)
	}

	for _, it := range seed.Items {
		ownerID, ok := owners[it.OwnerEmail]
		if !ok {
			return fmt.Errorf("seed item %q: owner %s is not in the seed file", it.Name, it.OwnerEmail)
		}
		available := true
		if it.Available != nil {
			available = *it.Available
		}
		item, err := catalog.CreateItem(ctx, ownerID, &models.Item{
			Name:        it.Name,
			Description: it.Description,
			Available:   available,
		})
		if err != nil {
			return fmt.Errorf("seed item %q: %w", it.Name, err)
		}
		fmt.Fprintf(out, "item #%d %s (owner #%d)\n", item.ID, item.Name, ownerID)
	}
	return nil
}
