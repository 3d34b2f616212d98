package session

import "os"

// sampleScript is written in place of a missing script so a fresh deployment
// has something to demo.
const sampleScript = `#!/bin/bash

echo "Starting demo script..."
echo "This is a sample script that demonstrates terminal output."
echo ""

# Simulate some work with progress
for i in {1..10}; do
    echo "Processing step $i/10..."
    sleep 1

    # Show some colored output if supported
    if command -v tput >/dev/null 2>&1; then
        echo "$(tput setaf 2)✓ Step $i completed$(tput sgr0)"
    else
        echo "✓ Step $i completed"
    fi
done

echo ""
echo "Simulating some errors and warnings..."
echo "WARNING: This is a sample warning message" >&2
echo "INFO: This is an informational message"

echo ""
echo "Final processing..."
sleep 2

echo "Demo script completed successfully!"
`

func writeSampleScript(path string) error {
	return os.WriteFile(path, []byte(sampleScript), 0o755)
}
