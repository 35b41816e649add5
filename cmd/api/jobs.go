package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mcclellann/microloans/pkg/ledger"
	"github.com/mcclellann/microloans/pkg/notify"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// startJobs schedules the projection refresh and the alert digest.
func startJobs(loc *time.Location, refreshSpec, alertSpec string, lg *ledger.Ledger, sender *notify.Sender, logger *logrus.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(refreshSpec, refreshJob(lg, logger)); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", refreshSpec, err)
	}
	if _, err := c.AddFunc(alertSpec, alertJob(lg, sender, logger)); err != nil {
		return nil, fmt.Errorf("invalid alert schedule %q: %w", alertSpec, err)
	}
	c.Start()
	return c, nil
}

func refreshJob(lg *ledger.Ledger, logger *logrus.Logger) func() {
	return func() {
		logger.Info("refreshing open loans")
		if _, err := lg.RefreshOpenLoans(context.Background()); err != nil {
			logger.WithError(err).Error("loan refresh failed")
		}
	}
}

func alertJob(lg *ledger.Ledger, sender *notify.Sender, logger *logrus.Logger) func() {
	return func() {
		alerts, err := lg.DueAlerts(context.Background())
		if err != nil {
			logger.WithError(err).Error("failed to collect due alerts")
			return
		}
		logger.WithField("alerts", len(alerts)).Info("due alerts collected")
		if err := sender.SendDueAlerts(alerts, lg.Today()); err != nil {
			logger.WithError(err).Error("alert digest not delivered")
		}
	}
}
