// Command usbadb talks to an Android device over USB without an adb server:
// it claims the device's ADB interface, authenticates with a persistent RSA
// key, and exposes shell and package-management commands.
package main

func main() {
	Execute()
}
