package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"igmetrics/pkg/graph"
	"igmetrics/pkg/models"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OAuth connections",
	Long: `Manage the OAuth flow for subjects.

A connected subject is upgraded to oauth mode and served through the
Graph API until the token expires, with scraping as the fallback.`,
}

// authURLCmd prints the authorization URL for a subject
var authURLCmd = &cobra.Command{
	Use:   "url <subject>",
	Short: "Print the authorization URL to send a subject to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, err := parseSubjectArg(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{skipBrowser: true})
		if err != nil {
			return err
		}
		defer a.close()

		client := graph.NewClient(a.cfg.Graph.AppID, a.cfg.Graph.AppSecret, a.cfg.Graph.RedirectURI, a.cfg.Graph.BaseURL, a.cfg.Graph.Timeout, a.log)
		return printJSON(map[string]string{
			"authorize_url": client.AuthURL(strconv.FormatInt(subjectID, 10)),
		})
	},
}

// authExchangeCmd completes the OAuth flow with an authorization code
var authExchangeCmd = &cobra.Command{
	Use:   "exchange <subject> <code>",
	Short: "Exchange an authorization code and store the token",
	Long: `Trade the authorization code for a long-lived token, encrypt it and
store it as the subject's active token. The linked account is upgraded
to oauth mode.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, err := parseSubjectArg(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{skipBrowser: true})
		if err != nil {
			return err
		}
		defer a.close()

		cipher, err := a.tokenCipher()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		client := graph.NewClient(a.cfg.Graph.AppID, a.cfg.Graph.AppSecret, a.cfg.Graph.RedirectURI, a.cfg.Graph.BaseURL, a.cfg.Graph.Timeout, a.log)

		short, err := client.ExchangeCode(ctx, args[1])
		if err != nil {
			return fmt.Errorf("exchanging authorization code: %w", err)
		}
		long, err := client.LongLivedToken(ctx, short.AccessToken)
		if err != nil {
			return fmt.Errorf("upgrading to long-lived token: %w", err)
		}

		profile, err := client.FetchProfileData(ctx, long.AccessToken, 1)
		if err != nil {
			return fmt.Errorf("reading connected profile: %w", err)
		}

		encrypted, err := cipher.EncryptString(long.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypting token: %w", err)
		}

		tok := &models.OAuthToken{
			SubjectID:      subjectID,
			Platform:       models.PlatformInstagram,
			AccessToken:    encrypted,
			PlatformUserID: strconv.FormatInt(short.UserID, 10),
			ExpiresAt:      time.Now().UTC().Add(time.Duration(long.ExpiresIn) * time.Second),
		}
		if err := a.store.SaveToken(ctx, tok); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}

		if _, err := a.store.Link(ctx, subjectID, models.PlatformInstagram, profile.Username, models.ModeOAuth); err != nil {
			return fmt.Errorf("upgrading link to oauth: %w", err)
		}

		return printJSON(map[string]interface{}{
			"subject_id": subjectID,
			"username":   profile.Username,
			"mode":       models.ModeOAuth,
			"expires_at": tok.ExpiresAt,
		})
	},
}

// authRefreshCmd refreshes the subject's long-lived token
var authRefreshCmd = &cobra.Command{
	Use:   "refresh <subject>",
	Short: "Refresh the subject's long-lived token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, err := parseSubjectArg(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{skipBrowser: true})
		if err != nil {
			return err
		}
		defer a.close()

		cipher, err := a.tokenCipher()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		current, err := a.store.ActiveToken(ctx, subjectID, models.PlatformInstagram)
		if err != nil {
			return fmt.Errorf("loading active token: %w", err)
		}
		plaintext, err := cipher.DecryptString(current.AccessToken)
		if err != nil {
			return fmt.Errorf("decrypting token: %w", err)
		}

		client := graph.NewClient(a.cfg.Graph.AppID, a.cfg.Graph.AppSecret, a.cfg.Graph.RedirectURI, a.cfg.Graph.BaseURL, a.cfg.Graph.Timeout, a.log)
		refreshed, err := client.RefreshToken(ctx, plaintext)
		if err != nil {
			return fmt.Errorf("refreshing token: %w", err)
		}

		encrypted, err := cipher.EncryptString(refreshed.AccessToken)
		if err != nil {
			return fmt.Errorf("encrypting token: %w", err)
		}

		tok := &models.OAuthToken{
			SubjectID:      subjectID,
			Platform:       models.PlatformInstagram,
			AccessToken:    encrypted,
			PlatformUserID: current.PlatformUserID,
			ExpiresAt:      time.Now().UTC().Add(time.Duration(refreshed.ExpiresIn) * time.Second),
		}
		if err := a.store.SaveToken(ctx, tok); err != nil {
			return fmt.Errorf("storing refreshed token: %w", err)
		}

		return printJSON(map[string]interface{}{
			"subject_id": subjectID,
			"expires_at": tok.ExpiresAt,
		})
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authURLCmd)
	authCmd.AddCommand(authExchangeCmd)
	authCmd.AddCommand(authRefreshCmd)
}
