package source

import "strings"

// PayloadKind classifies a payload file by its suffix.
type PayloadKind string

const (
	KindWIC PayloadKind = "wic"
	KindSPU PayloadKind = "spu"
	KindVSI PayloadKind = "vsi"
)

// wicSuffixes covers bare images plus the compressed variants produced
// by the build pipelines.
var wicSuffixes = []string{".wic", ".wic.gz", ".wic.xz", ".wic.zst", ".wic.bz2"}

// MatchPayloadKind classifies a filename. SPU and VSI take priority
// over WIC; matching is case-insensitive on the suffix.
func MatchPayloadKind(name string) (PayloadKind, bool) {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".spu") {
		return KindSPU, true
	}
	if strings.HasSuffix(lower, ".vsi") {
		return KindVSI, true
	}
	for _, suffix := range wicSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return KindWIC, true
		}
	}
	return "", false
}

// PayloadSuffixes returns all recognized payload suffixes, used by the
// adapters when filtering release assets and artifact names.
func PayloadSuffixes() []string {
	out := make([]string, 0, len(wicSuffixes)+2)
	out = append(out, wicSuffixes...)
	out = append(out, ".vsi", ".spu")
	return out
}

// ContainsPayloadSuffix reports whether any payload suffix occurs as a
// substring of the name. Artifact names are ZIP bundle names, so the
// suffix may appear mid-string ("core-image.wic-v2" etc).
func ContainsPayloadSuffix(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range PayloadSuffixes() {
		if strings.Contains(lower, suffix) {
			return true
		}
	}
	return false
}

// artifactNamePatterns are heuristics for artifact bundles that contain
// payload files without carrying the extension in the bundle name.
// "build-artifacts-spu" is the SimPad image bundle; the SDK bundle
// ("build-artifacts-sdk") deliberately does not match.
var artifactNamePatterns = []string{"wic", "image", "firmware", "build-artifacts-spu"}

// IsPayloadArtifactName reports whether an artifact bundle name looks
// like it contains payload files.
func IsPayloadArtifactName(name string) bool {
	if ContainsPayloadSuffix(name) {
		return true
	}
	lower := strings.ToLower(name)
	for _, pattern := range artifactNamePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
