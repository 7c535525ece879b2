package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// jobIDPattern accepts accessions such as SRR000001. The id names per-job directories,
// so it must start with a letter or digit and never contain a path separator.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Job is one sample accession received from the queue
type Job struct {
	ID string

	// ReceiptHandle acknowledges an SQS message
	ReceiptHandle string
	// DeliveryTag acknowledges a RabbitMQ delivery
	DeliveryTag uint64
}

// ParseJobID trims the message body down to the accession it carries
func ParseJobID(body string) (string, error) {
	id := strings.TrimSpace(body)
	if err := ValidateJobID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateJobID reports whether id can be used as an accession and a directory name
func ValidateJobID(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}
	if !jobIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}

// ArtifactKey returns the object key of the normalized counts for a sample
func ArtifactKey(jobID string) string {
	return ArtifactKeyWithPrefix(DefaultArtifactPrefix, jobID)
}

// ArtifactKeyWithPrefix is ArtifactKey under a custom prefix
func ArtifactKeyWithPrefix(prefix, jobID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", jobID, ArtifactFilename(jobID))
	}
	return fmt.Sprintf("%s/%s/%s", prefix, jobID, ArtifactFilename(jobID))
}

// ArtifactFilename is the file name the statistics tool writes for a sample
func ArtifactFilename(jobID string) string {
	return jobID + "_normalized_counts.txt"
}
