package version

const Framework = "dev"
