package pipeline

import (
	"fmt"
	"os"
)

// DefaultPipelineYAML is the pipeline written by project init: lint, test,
// docs, and packaging jobs for a Python project, fanned out in parallel.
const DefaultPipelineYAML = `version: 2
name: pytorch-lightning-bolts

variables:
  python-image: cimg/python:3.8

jobs:
  Formatting:
    image: "{{python-image}}"
    steps:
      - checkout
      - run:
          name: Install flake8
          command: pip install --user flake8
      - run:
          name: Lint
          command: python -m flake8 .

  Testing:
    image: "{{python-image}}"
    environment:
      CODECOV_FLAGS: cpu,pytest
    steps:
      - checkout
      - restore_cache:
          key: v1-deps-{{ checksum "requirements.txt" }}
      - run:
          name: Install dependencies
          command: pip install --user -r requirements.txt
      - save_cache:
          key: v1-deps-{{ checksum "requirements.txt" }}
          paths:
            - .cache/pip
      - run:
          name: Run tests
          command: python -m pytest pl_bolts tests -v --cov=pl_bolts
      - run:
          name: Upload coverage
          command: pip install --user codecov && python -m codecov -F $CODECOV_FLAGS
      - store_artifacts:
          path: htmlcov
          destination: coverage

  Build-Docs:
    image: "{{python-image}}"
    steps:
      - checkout
      - run:
          name: Install docs requirements
          command: pip install --user -r docs/requirements.txt
      - run:
          name: Build sphinx docs
          command: cd docs && make html
      - store_artifacts:
          path: docs/build/html
          destination: docs

  Install-pkg:
    image: "{{python-image}}"
    steps:
      - checkout
      - run:
          name: Build package
          command: python setup.py sdist bdist_wheel
      - run:
          name: Check package
          command: pip install --user twine && python -m twine check dist/*

workflows:
  build:
    jobs:
      - Formatting
      - Testing
      - Build-Docs
      - Install-pkg
`

// DefaultDefinition parses the embedded default pipeline.
func DefaultDefinition() (Definition, error) {
	return ParseDefinition([]byte(DefaultPipelineYAML))
}

// EnsureDefaultFile writes the default pipeline to path unless a file is
// already there.
func EnsureDefaultFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pipeline: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(DefaultPipelineYAML), 0o644); err != nil {
		return fmt.Errorf("pipeline: write %s: %w", path, err)
	}
	return nil
}
