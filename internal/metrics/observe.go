package metrics

import (
	"time"

	"github.com/agentworkforce/msgrelay/internal/relay"
)

// ObserveVisibility records one coordinator report. It matches
// relay.CoordinatorOptions.OnReport.
func ObserveVisibility(report relay.VisibilityReport) {
	VisibilityWait.Observe(report.Waited.Seconds())
	if !report.Visible {
		VisibilityTimeouts.Inc()
	}
}

// ObserveCredentialLookup matches relay.CredentialCacheOptions.OnLookup.
func ObserveCredentialLookup(provider string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CredentialLookups.WithLabelValues(provider, result).Inc()
}

// ObserveDispatch labels every device type outside the known set as
// "other"; the type is client supplied.
func ObserveDispatch(deviceType relay.DeviceType, err error, elapsed time.Duration) {
	label := deviceTypeLabel(deviceType)
	DispatchTotal.WithLabelValues(label, relay.KindName(err)).Inc()
	DispatchDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func ObserveSubmission(format string, err error) {
	SubmissionsTotal.WithLabelValues(format, relay.KindName(err)).Inc()
}

func ObserveKeyNodeSync(err error) {
	KeyNodeSyncsTotal.WithLabelValues(relay.KindName(err)).Inc()
}

func ObserveCanonicalIDEvent(err error) {
	result := "published"
	if err != nil {
		result = "failed"
	}
	CanonicalIDEvents.WithLabelValues(result).Inc()
}

func deviceTypeLabel(deviceType relay.DeviceType) string {
	switch deviceType {
	case relay.DeviceNone, relay.DeviceLegacyAndroid, relay.DeviceApple, relay.DeviceModernAndroid:
		return deviceType.String()
	default:
		return "other"
	}
}
