package domain

// Integrity status values recorded on a DeviceKey after attestation.
const (
	IntegrityStatusMet    = "MEETS_DEVICE_INTEGRITY"
	IntegrityStatusFailed = "FAILED"
)

// IntegrityVerdict is the attestation service's statement about a device.
// It is advisory input: the protocol records it but, unless the hard-gate
// policy is enabled, never lets it override a valid signature.
type IntegrityVerdict struct {
	MeetsDeviceIntegrity     bool   `json:"meets_device_integrity"`
	MeetsBasicIntegrity      bool   `json:"meets_basic_integrity"`
	DeviceRecognitionVerdict string `json:"device_recognition_verdict,omitempty"`
	AppLicensingVerdict      string `json:"app_licensing_verdict,omitempty"`
}

// Status maps the verdict onto the DeviceKey integrity status field.
func (v IntegrityVerdict) Status() string {
	if v.MeetsDeviceIntegrity {
		return IntegrityStatusMet
	}
	return IntegrityStatusFailed
}
