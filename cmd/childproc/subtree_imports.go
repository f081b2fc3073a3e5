package main

// List all subpackages which implement `childproc` commands here, in
// alphabetical order.

import _ "github.com/taskcluster/childproc/cmds/completions"
import _ "github.com/taskcluster/childproc/cmds/config"
import _ "github.com/taskcluster/childproc/cmds/version"
